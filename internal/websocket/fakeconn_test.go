package websocket

import (
	"errors"
	"net"
	"sync"
	"time"
)

var errFakeClosed = errors.New("fake connection closed")

type frame struct {
	kind int
	data []byte
}

// fakeConn replays queued frames to ReadMessage. When the queue is drained
// it reports EOF if hangUp is set and otherwise blocks until Close.
type fakeConn struct {
	mu       sync.Mutex
	inbound  []frame
	written  []frame
	hangUp   bool
	closed   bool
	closedCh chan struct{}

	readLimit int64
	pong      func(string) error
}

func newFakeConn(hangUp bool, inbound ...string) *fakeConn {
	c := &fakeConn{hangUp: hangUp, closedCh: make(chan struct{})}
	for _, s := range inbound {
		c.inbound = append(c.inbound, frame{kind: 1, data: []byte(s)})
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, nil, errFakeClosed
	}
	if len(c.inbound) > 0 {
		f := c.inbound[0]
		c.inbound = c.inbound[1:]
		c.mu.Unlock()
		return f.kind, f.data, nil
	}
	hangUp := c.hangUp
	c.mu.Unlock()

	if hangUp {
		return 0, nil, errors.New("peer went away")
	}
	<-c.closedCh
	return 0, nil, errFakeClosed
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	c.written = append(c.written, frame{kind: kind, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	c.readLimit = limit
	c.mu.Unlock()
}

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	c.pong = h
	c.mu.Unlock()
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) frames() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.written...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
