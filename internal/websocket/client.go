package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"scholarpass/internal/config"
	"scholarpass/internal/infrastructure"
	"scholarpass/pkg/contracts/events"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Outbound messages buffered per client
	sendBuffer = 64
)

var (
	// ErrClientClosed is returned by Send after the stream ended.
	ErrClientClosed = errors.New("websocket client closed")
	// ErrSendBufferFull is returned when a slow peer lets the buffer fill.
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

var (
	newline   = []byte{'\n'}
	space     = []byte{' '}
	heartbeat = []byte(`{"type":"heartbeat"}`)
)

// Options tune one client's deadlines and limits.
type Options struct {
	PingPeriod      time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

// OptionsFromConfig converts the websocket configuration section.
func OptionsFromConfig(cfg config.WebSocketConfig) Options {
	return Options{
		PingPeriod:      cfg.PingPeriod,
		PongWait:        cfg.PongWait,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 16 << 20
	}
	return o
}

// MessageHandler processes one inbound request. Handlers run one at a time
// per client and reply through c.Send.
type MessageHandler func(ctx context.Context, c *Client, payload []byte)

// Client is one streaming connection. A single writer goroutine owns the
// connection's write side; a single worker runs inbound requests so pings
// and pongs keep flowing during a long request.
type Client struct {
	conn      Connection
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	id          string
	traceID     string
	connectedAt time.Time
	opts        Options

	logger  *slog.Logger
	metrics *OTelMetrics

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

// NewClient wraps conn. metrics may be nil.
func NewClient(conn Connection, opts Options, traceID string, metrics *OTelMetrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	id := uuid.New().String()
	return &Client{
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		id:          id,
		traceID:     traceID,
		connectedAt: time.Now(),
		opts:        opts.withDefaults(),
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
			slog.String("remote_addr", remoteAddr(conn)),
		),
		metrics: metrics,
	}
}

// ID returns the client id.
func (c *Client) ID() string {
	return c.id
}

// TraceID returns the trace id of the upgrade request.
func (c *Client) TraceID() string {
	return c.traceID
}

func (c *Client) context(ctx context.Context) context.Context {
	if c.traceID != "" {
		return infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// Send queues msg for the peer without blocking.
func (c *Client) Send(msg events.WebSocketMessage) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.metrics.RecordDroppedMessage(c.context(context.Background()))
		c.logger.Warn("dropping websocket message, send buffer full",
			slog.String("type", string(msg.Type)))
		return ErrSendBufferFull
	}
}

// Run serves the connection until the peer goes away or ctx is done.
// Requests received while one is running are refused with a busy error.
func (c *Client) Run(ctx context.Context, handle MessageHandler) {
	ctx = c.context(ctx)
	c.metrics.RecordConnection(ctx)
	c.logger.InfoContext(ctx, "websocket client connected")

	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump()
	}()

	work := make(chan []byte, 1)
	workDone := make(chan struct{})
	go func() {
		defer close(workDone)
		for payload := range work {
			handle(workCtx, c, payload)
		}
	}()

	c.readPump(ctx, work)

	cancel()
	close(work)
	<-workDone

	c.closeOnce.Do(func() { close(c.done) })
	<-writeDone
	_ = c.conn.Close()

	duration := time.Since(c.connectedAt)
	c.metrics.RecordDisconnection(ctx, duration)
	c.logger.InfoContext(ctx, "websocket client disconnected",
		slog.Duration("connection_duration", duration),
		slog.Int64("messages_received", c.messagesReceived.Load()),
		slog.Int64("messages_sent", c.messagesSent.Load()),
	)
}

func (c *Client) readPump(ctx context.Context, work chan<- []byte) {
	c.conn.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.WarnContext(ctx, "unexpected websocket close",
					slog.String("error", err.Error()))
			}
			return
		}
		message = bytes.TrimSpace(bytes.ReplaceAll(message, newline, space))

		c.messagesReceived.Add(1)
		c.metrics.RecordMessage(ctx, "inbound", len(message))

		if bytes.Equal(message, heartbeat) {
			continue
		}

		select {
		case work <- message:
		default:
			_ = c.Send(events.NewMessage(events.MessageTypeError, c.traceID, events.ErrorData{
				Code:    "BUSY",
				Message: "an analysis is already running on this connection",
				Status:  429,
			}))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	ctx := c.context(context.Background())
	for {
		select {
		case message := <-c.send:
			if !c.write(ctx, websocket.TextMessage, message) {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(ctx, "failed to send ping", slog.String("error", err.Error()))
				_ = c.conn.Close()
				return
			}

		case <-c.done:
			// Flush what the worker queued before it finished.
			for {
				select {
				case message := <-c.send:
					if !c.write(ctx, websocket.TextMessage, message) {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *Client) write(ctx context.Context, messageType int, data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.WarnContext(ctx, "error writing websocket message", slog.String("error", err.Error()))
		_ = c.conn.Close()
		return false
	}
	c.messagesSent.Add(1)
	c.metrics.RecordMessage(ctx, "outbound", len(data))
	return true
}
