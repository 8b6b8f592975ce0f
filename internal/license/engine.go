package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome classifies a successful activation.
type Outcome string

const (
	// OutcomeActivated is a first activation that was written back.
	OutcomeActivated Outcome = "activated"
	// OutcomeActivatedNotPersisted is a first activation whose write-back
	// failed. The caller is still authorized but the ledger still shows the
	// license as UNUSED.
	OutcomeActivatedNotPersisted Outcome = "activated_not_persisted"
	// OutcomeWelcomeBack is a repeat login on an already used license.
	OutcomeWelcomeBack Outcome = "welcome_back"
)

// Activation is the result of a successful Activate call.
type Activation struct {
	License string
	Outcome Outcome
	Message string
	// ExpireAt is the license expiry date as stored, YYYY-MM-DD.
	ExpireAt string
	// TokenExpiry is set only on first activation. A welcome-back login
	// issues a token without expiry.
	TokenExpiry *time.Time
	// PersistErr holds the replace failure for OutcomeActivatedNotPersisted.
	PersistErr error
}

// Authorized reports whether the caller should be treated as logged in.
func (a *Activation) Authorized() bool {
	return a != nil
}

// Engine validates license strings against the ledger and performs the
// UNUSED to USED transition.
type Engine struct {
	store   Store
	now     func() time.Time
	loc     *time.Location
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the location used for calendar dates.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithStoreTimeout bounds each fetch and replace call.
func WithStoreTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics enables outcome metrics.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an activation engine over store. A nil store makes
// every activation fail with a not-configured store error.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		now:    time.Now,
		loc:    time.Local,
		logger: slog.Default(),
		tracer: otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "activation_engine"))
	return e
}

// Activate runs one activation attempt for license on behalf of deviceID.
//
// The ledger is fetched, modified in memory and replaced as a whole. There
// is no compare-and-swap: two concurrent first activations of different
// licenses can each read the same document and the later replace wins.
func (e *Engine) Activate(ctx context.Context, license, deviceID string) (*Activation, error) {
	ctx, span := e.tracer.Start(ctx, "license.activate",
		trace.WithAttributes(attribute.String("license.masked", MaskLicense(license))),
	)
	defer span.End()

	// Latency uses the wall clock; e.now is the ledger's business clock.
	start := time.Now()
	act, err := e.activate(ctx, license, deviceID)

	outcome := outcomeLabel(act, err)
	e.metrics.RecordActivation(ctx, outcome, time.Since(start))
	span.SetAttributes(attribute.String("license.outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, DenialMessage(err))
		e.logger.WarnContext(ctx, "license activation denied",
			slog.String("license", MaskLicense(license)),
			slog.String("reason", DenialMessage(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	level := slog.LevelInfo
	if act.Outcome == OutcomeActivatedNotPersisted {
		level = slog.LevelError
	}
	e.logger.Log(ctx, level, "license activation accepted",
		slog.String("license", MaskLicense(license)),
		slog.String("outcome", string(act.Outcome)),
		slog.String("expire_at", act.ExpireAt),
	)
	return act, nil
}

func (e *Engine) activate(ctx context.Context, license, deviceID string) (*Activation, error) {
	if license == "" {
		return nil, ErrMissingLicense
	}
	if e.store == nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrStoreNotConfigured)
	}

	snap, err := e.fetch(ctx)
	if err != nil {
		return nil, err
	}

	rec, ok := snap.Ledger[license]
	if !ok {
		return nil, ErrLicenseNotFound
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	now := e.now().In(e.loc)

	switch rec.Status {
	case StatusUnused:
		return e.firstActivation(ctx, snap, license, rec, deviceID, now)
	case StatusUsed:
		expiry, err := rec.ExpiryDate(e.loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInconsistentRecord, err)
		}
		if today(now).After(expiry) {
			return nil, ErrLicenseExpired
		}
		return &Activation{
			License:  license,
			Outcome:  OutcomeWelcomeBack,
			Message:  "welcome back",
			ExpireAt: rec.ExpireAt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInconsistentRecord, rec.Status)
	}
}

func (e *Engine) firstActivation(ctx context.Context, snap *Snapshot, license string, rec Record, deviceID string, now time.Time) (*Activation, error) {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	days := rec.EffectiveValidDays()
	tokenExpiry := now.AddDate(0, 0, days)
	expireAt := tokenExpiry.Format(DateLayout)

	updated := rec.clone()
	updated.Status = StatusUsed
	updated.BoundDevice = deviceID
	updated.ActivatedAt = now.Format(TimestampLayout)
	updated.ExpireAt = expireAt

	ledger := snap.Ledger.Clone()
	ledger[license] = updated

	act := &Activation{
		License:     license,
		Outcome:     OutcomeActivated,
		Message:     "activated, expires " + expireAt,
		ExpireAt:    expireAt,
		TokenExpiry: &tokenExpiry,
	}

	if err := e.replace(ctx, ledger, snap.Version); err != nil {
		act.Outcome = OutcomeActivatedNotPersisted
		act.PersistErr = err
	}
	return act, nil
}

func (e *Engine) fetch(ctx context.Context) (*Snapshot, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	snap, err := e.store.Fetch(ctx)
	if err != nil {
		return nil, asUnavailable(err)
	}
	if snap == nil {
		return &Snapshot{Ledger: Ledger{}}, nil
	}
	if snap.Ledger == nil {
		snap.Ledger = Ledger{}
	}
	return snap, nil
}

func (e *Engine) replace(ctx context.Context, ledger Ledger, ifMatch Version) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if err := e.store.Replace(ctx, ledger, ifMatch); err != nil {
		return asUnavailable(err)
	}
	return nil
}

func asUnavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func outcomeLabel(act *Activation, err error) string {
	if err == nil {
		return string(act.Outcome)
	}
	switch ErrorCode(err) {
	case CodeMissingLicense:
		return "missing_license"
	case CodeLicenseNotFound:
		return "not_found"
	case CodeLicenseExpired:
		return "expired"
	case CodeInconsistentRecord:
		return "inconsistent"
	case CodeTooManyAttempts:
		return "rate_limited"
	default:
		return "store_unavailable"
	}
}

// MaskLicense hides most of a license string for logs. It counts runes so
// multibyte keys stay valid UTF-8.
func MaskLicense(key string) string {
	runes := []rune(key)
	if len(runes) <= 8 {
		return "****"
	}
	return string(runes[:4]) + "****" + string(runes[len(runes)-4:])
}
