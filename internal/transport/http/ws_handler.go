package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	apierrors "scholarpass/internal/errors"
	"scholarpass/internal/infrastructure"
	"scholarpass/internal/middleware"
	"scholarpass/internal/services"
	ws "scholarpass/internal/websocket"
	api "scholarpass/pkg/contracts/api/v1"
	"scholarpass/pkg/contracts/events"
)

// StreamHandler serves GET /ws/analysis. Each text message is an
// AnalysisStreamRequest; the reply is a run of progress messages closed by
// one result or error message.
type StreamHandler struct {
	analyzer  Analyzer
	validator *middleware.Validator
	errors    *apierrors.ErrorHandler
	upgrader  *websocket.Upgrader
	options   ws.Options
	metrics   *ws.OTelMetrics
	logger    *slog.Logger
}

// NewStreamHandler creates the websocket analysis handler
func NewStreamHandler(analyzer Analyzer, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, upgrader *websocket.Upgrader, options ws.Options, metrics *ws.OTelMetrics, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		analyzer:  analyzer,
		validator: validator,
		errors:    errorHandler,
		upgrader:  upgrader,
		options:   options,
		metrics:   metrics,
		logger:    logger.With(slog.String("handler", "analysis_stream")),
	}
}

// ServeHTTP upgrades the connection and serves it until the client leaves
// or the server shuts down.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx := infrastructure.EnsureTraceID(r.Context())
	client := ws.NewClient(conn, h.options, infrastructure.GetTraceID(ctx), h.metrics, h.logger)
	client.Run(ctx, h.handle(r))
}

func (h *StreamHandler) handle(r *http.Request) ws.MessageHandler {
	return func(ctx context.Context, c *ws.Client, payload []byte) {
		var req api.AnalysisStreamRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			h.sendError(ctx, c, r, apierrors.InvalidRequestWithError(err))
			return
		}
		if err := h.validator.Struct(&req); err != nil {
			h.sendError(ctx, c, r, err)
			return
		}
		image, err := decodeImage(req.ImageBase64)
		if err != nil {
			h.sendError(ctx, c, r, apierrors.ErrValidation("image_base64", "must be base64 encoded"))
			return
		}

		progress := func(p events.Progress) {
			if err := c.Send(events.NewMessage(events.MessageTypeProgress, c.TraceID(), p)); err != nil {
				h.logger.DebugContext(ctx, "progress dropped",
					slog.String("client_id", c.ID()),
					slog.String("error", err.Error()))
			}
		}
		resp, err := h.analyzer.Analyze(ctx, services.AnalysisInput{
			Subject: req.Subject,
			Task:    req.Task,
			Image:   bytes.NewReader(image),
		}, progress)
		if err != nil {
			h.sendError(ctx, c, r, err)
			return
		}
		if err := c.Send(events.NewMessage(events.MessageTypeResult, c.TraceID(), resp)); err != nil {
			h.logger.WarnContext(ctx, "result dropped",
				slog.String("client_id", c.ID()),
				slog.String("error", err.Error()))
		}
	}
}

// sendError reports err as the same problem the HTTP endpoints would
// return, flattened into an ErrorData payload.
func (h *StreamHandler) sendError(ctx context.Context, c *ws.Client, r *http.Request, err error) {
	problem := h.errors.ErrorToProblem(err, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "analysis stream request failed",
		slog.String("client_id", c.ID()),
		slog.Int("status", problem.Status),
		slog.String("error", err.Error()),
	)

	code, _ := problem.Extensions["error_code"].(string)
	if code == "" {
		code = strings.ToUpper(strings.ReplaceAll(problem.Title, " ", "_"))
	}
	message := problem.Detail
	if message == "" {
		message = problem.Title
	}
	_ = c.Send(events.NewMessage(events.MessageTypeError, c.TraceID(), events.ErrorData{
		Code:    code,
		Message: message,
		Status:  problem.Status,
	}))
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	return data, nil
}
