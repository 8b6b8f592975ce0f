package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"scholarpass/internal/session"
)

type sessionContextKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session attached by Sessions.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return s, ok && s != nil
}

// Sessions attaches the per-browser session to every request. The session
// id travels in a cookie without expiry, so closing the browser starts a
// new session, which also means a new device id.
type Sessions struct {
	registry session.Registry
	secure   bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessions creates the session middleware over registry.
func NewSessions(registry session.Registry, secureCookies bool, logger *slog.Logger) *Sessions {
	return &Sessions{
		registry: registry,
		secure:   secureCookies,
		logger:   logger.With(slog.String("component", "sessions")),
		now:      time.Now,
	}
}

// Handler loads or creates the session, runs next, then saves the session.
func (m *Sessions) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := m.load(ctx, r)
		sess.Touch(m.now())

		http.SetCookie(w, &http.Cookie{
			Name:     session.CookieName,
			Value:    sess.ID(),
			Path:     "/",
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
		})

		next.ServeHTTP(w, r.WithContext(WithSession(ctx, sess)))

		// Save with a fresh context; the request context may be done.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := m.registry.Save(saveCtx, sess); err != nil {
			m.logger.WarnContext(ctx, "failed to save session",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (m *Sessions) load(ctx context.Context, r *http.Request) *session.Session {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return session.New()
	}

	sess, ok, err := m.registry.Load(ctx, cookie.Value)
	if errors.Is(err, session.ErrCorruptSession) {
		m.logger.WarnContext(ctx, "dropping unreadable session",
			slog.String("session_id", cookie.Value),
			slog.String("error", err.Error()),
		)
		if delErr := m.registry.Delete(ctx, cookie.Value); delErr != nil {
			m.logger.WarnContext(ctx, "failed to delete session",
				slog.String("session_id", cookie.Value),
				slog.String("error", delErr.Error()),
			)
		}
		return session.New()
	}
	if err != nil {
		m.logger.WarnContext(ctx, "session registry unavailable, starting a new session",
			slog.String("error", err.Error()),
		)
		return session.New()
	}
	if !ok {
		return session.New()
	}
	return sess
}
