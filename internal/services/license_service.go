package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scholarpass/internal/infrastructure"
	"scholarpass/internal/license"
	"scholarpass/internal/session"
	api "scholarpass/pkg/contracts/api/v1"
)

// Activator performs license activations. *license.Engine implements it.
type Activator interface {
	Activate(ctx context.Context, license, deviceID string) (*license.Activation, error)
}

// Authorizer decides whether a session is logged in. *session.Gate
// implements it.
type Authorizer interface {
	Authorize(s *session.Session, jar session.Jar) session.Decision
}

// LicenseService provides the login flow on top of the activation engine
type LicenseService interface {
	// Activate validates key against the ledger and logs the session in.
	Activate(ctx context.Context, sess *session.Session, jar session.Jar, clientKey, key string) (*api.LicenseActivateResponse, error)
	// Status reports the gate decision for the session.
	Status(ctx context.Context, sess *session.Session, jar session.Jar) *api.LicenseStatusResponse
	// Logout revokes the token and force-logs-out the session.
	Logout(ctx context.Context, sess *session.Session, jar session.Jar) *api.LogoutResponse
}

// licenseService implements LicenseService
type licenseService struct {
	engine  Activator
	limiter *license.AttemptLimiter
	tokens  *session.TokenManager
	gate    Authorizer
	metrics *license.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewLicenseService creates a new license service. limiter and metrics may
// be nil.
func NewLicenseService(engine Activator, limiter *license.AttemptLimiter, tokens *session.TokenManager, gate Authorizer, metrics *license.Metrics, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &licenseService{
		engine:  engine,
		limiter: limiter,
		tokens:  tokens,
		gate:    gate,
		metrics: metrics,
		logger:  logger.With(slog.String("service", "license")),
		tracer:  otel.Tracer("scholarpass/services"),
		now:     time.Now,
	}
}

// Activate runs one activation attempt for the session's device. A failure
// caused by the supplied key counts toward the client's attempt limit.
func (s *licenseService) Activate(ctx context.Context, sess *session.Session, jar session.Jar, clientKey, key string) (*api.LicenseActivateResponse, error) {
	ctx, span := s.tracer.Start(ctx, "license.service.activate",
		trace.WithAttributes(attribute.String("license.masked", license.MaskLicense(key))),
	)
	defer span.End()

	if sess == nil {
		sess = session.New()
	}

	if s.limiter != nil && s.limiter.IsBlocked(clientKey) {
		s.metrics.RecordLimiterBlock(ctx)
		s.logger.WarnContext(ctx, "activation refused, client blocked",
			slog.String("client", clientKey),
		)
		span.SetStatus(codes.Error, "client blocked")
		return nil, fmt.Errorf("client %s: %w", clientKey, license.ErrTooManyAttempts)
	}

	act, err := s.engine.Activate(ctx, key, sess.CurrentDeviceID())
	if err != nil {
		if s.limiter != nil && license.IsUserError(err) {
			s.limiter.RecordFailure(clientKey)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, license.ErrorCode(err))
		return nil, err
	}

	if s.limiter != nil {
		s.limiter.RecordSuccess(clientKey)
	}

	if err := s.tokens.Issue(jar, act.License, act.TokenExpiry); err != nil {
		// The session cache still carries the login for this connection.
		s.logger.WarnContext(ctx, "failed to issue session token",
			slog.String("license", license.MaskLicense(act.License)),
			slog.String("error", err.Error()),
		)
	}
	sess.MarkActivated(act.License)

	span.SetAttributes(attribute.String("license.outcome", string(act.Outcome)))
	s.logger.InfoContext(ctx, "license activated",
		slog.String("license", license.MaskLicense(act.License)),
		slog.String("outcome", string(act.Outcome)),
		slog.String("session_id", sess.ID()),
	)

	return &api.LicenseActivateResponse{
		Outcome:   string(act.Outcome),
		Message:   act.Message,
		ExpireAt:  act.ExpireAt,
		Persisted: act.Outcome != license.OutcomeActivatedNotPersisted,
		TraceID:   infrastructure.GetTraceID(ctx),
	}, nil
}

// Status reports whether the session is logged in. The license is masked.
func (s *licenseService) Status(ctx context.Context, sess *session.Session, jar session.Jar) *api.LicenseStatusResponse {
	decision := s.gate.Authorize(sess, jar)

	resp := &api.LicenseStatusResponse{
		State:     string(decision.State),
		Source:    decision.Source,
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: s.now(),
	}
	if decision.LoggedIn() {
		resp.License = license.MaskLicense(decision.License)
	}
	if sess != nil {
		resp.DeviceID = sess.CurrentDeviceID()
	}
	return resp
}

// Logout deletes the token. The session stays logged out even if the
// browser still presents an old token.
func (s *licenseService) Logout(ctx context.Context, sess *session.Session, jar session.Jar) *api.LogoutResponse {
	s.tokens.Revoke(jar, sess)

	attrs := []any{}
	if sess != nil {
		attrs = append(attrs, slog.String("session_id", sess.ID()))
	}
	s.logger.InfoContext(ctx, "session logged out", attrs...)

	return &api.LogoutResponse{
		State:   string(session.LoggedOut),
		Message: "logged out",
	}
}
