package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "scholarpass/internal/errors"
	"scholarpass/internal/session"
)

// Authorizer decides whether a session is logged in. *session.Gate
// implements it.
type Authorizer interface {
	Authorize(s *session.Session, jar session.Jar) session.Decision
}

type decisionContextKey struct{}

// DecisionFromContext returns the gate decision made by RequireLicense.
func DecisionFromContext(ctx context.Context) (session.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(session.Decision)
	return d, ok
}

// LicenseGate rejects requests that are not logged in with 401.
type LicenseGate struct {
	gate          Authorizer
	errors        *apierrors.ErrorHandler
	secureCookies bool
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewLicenseGate creates the gate middleware. It must run after Sessions.
func NewLicenseGate(gate Authorizer, errorHandler *apierrors.ErrorHandler, secureCookies bool, logger *slog.Logger) *LicenseGate {
	return &LicenseGate{
		gate:          gate,
		errors:        errorHandler,
		secureCookies: secureCookies,
		logger:        logger.With(slog.String("component", "license_gate")),
		tracer:        otel.Tracer("scholarpass/middleware"),
	}
}

// RequireLicense is the middleware handler.
func (g *LicenseGate) RequireLicense(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := g.tracer.Start(r.Context(), "license.gate")
		defer span.End()

		sess, _ := SessionFromContext(ctx)
		jar := session.NewCookieJar(w, r, g.secureCookies)
		decision := g.gate.Authorize(sess, jar)

		span.SetAttributes(
			attribute.String("auth.state", string(decision.State)),
			attribute.String("auth.source", decision.Source),
		)

		if !decision.LoggedIn() {
			g.logger.DebugContext(ctx, "request rejected, not logged in",
				slog.String("path", r.URL.Path),
			)
			g.errors.HandleError(w, r, apierrors.ErrLicenseRequired)
			return
		}

		ctx = context.WithValue(ctx, decisionContextKey{}, decision)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
