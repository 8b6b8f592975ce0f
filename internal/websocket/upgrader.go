package websocket

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"scholarpass/internal/config"
)

// NewUpgrader builds the upgrader for the analysis stream. Requests without
// an Origin header, same-host origins and allowedOrigins are accepted.
func NewUpgrader(cfg config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed["*"] || allowed[origin] {
				return true
			}
			if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
				return true
			}
			logger.WarnContext(r.Context(), "websocket origin not allowed",
				slog.String("origin", origin),
				slog.Any("allowed_origins", allowedOrigins))
			return false
		},
	}
}
