package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "scholarpass/license"
	MeterName  = "scholarpass/license"
)

// Metrics holds the license OpenTelemetry instruments.
type Metrics struct {
	Activations        metric.Int64Counter
	ActivationDuration metric.Float64Histogram
	LimiterBlocks      metric.Int64Counter

	StoreOperations metric.Int64Counter
	StoreFailures   metric.Int64Counter
	StoreDuration   metric.Float64Histogram
	LedgerSize      metric.Int64Histogram
}

// InitializeMetrics creates the license instruments on the given meter. A nil
// meter uses the global meter provider.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	activations, err := meter.Int64Counter(
		"scholarpass.license.activations",
		metric.WithDescription("License activation attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	activationDuration, err := meter.Float64Histogram(
		"scholarpass.license.activation.duration",
		metric.WithDescription("Duration of license activation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	limiterBlocks, err := meter.Int64Counter(
		"scholarpass.license.limiter.blocks",
		metric.WithDescription("Activation attempts rejected by the attempt limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter counter: %w", err)
	}

	storeOps, err := meter.Int64Counter(
		"scholarpass.ledger.operations",
		metric.WithDescription("Ledger store operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store operations counter: %w", err)
	}

	storeFailures, err := meter.Int64Counter(
		"scholarpass.ledger.failures",
		metric.WithDescription("Failed ledger store operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store failures counter: %w", err)
	}

	storeDuration, err := meter.Float64Histogram(
		"scholarpass.ledger.duration",
		metric.WithDescription("Ledger store operation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	ledgerSize, err := meter.Int64Histogram(
		"scholarpass.ledger.size",
		metric.WithDescription("Number of records in the fetched ledger"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger size histogram: %w", err)
	}

	return &Metrics{
		Activations:        activations,
		ActivationDuration: activationDuration,
		LimiterBlocks:      limiterBlocks,
		StoreOperations:    storeOps,
		StoreFailures:      storeFailures,
		StoreDuration:      storeDuration,
		LedgerSize:         ledgerSize,
	}, nil
}

// RecordActivation records the outcome of one activation attempt.
func (m *Metrics) RecordActivation(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Activations.Add(ctx, 1, attrs)
	m.ActivationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordLimiterBlock counts an attempt the limiter refused.
func (m *Metrics) RecordLimiterBlock(ctx context.Context) {
	if m == nil {
		return
	}
	m.LimiterBlocks.Add(ctx, 1)
}

// InstrumentStore wraps a store with tracing spans and latency metrics.
// backend names the implementation in span and metric attributes.
func InstrumentStore(store Store, backend string, metrics *Metrics) Store {
	return &instrumentedStore{
		next:    store,
		backend: backend,
		metrics: metrics,
		tracer:  otel.Tracer(TracerName),
	}
}

type instrumentedStore struct {
	next    Store
	backend string
	metrics *Metrics
	tracer  trace.Tracer
}

func (s *instrumentedStore) Fetch(ctx context.Context) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.fetch",
		trace.WithAttributes(attribute.String("ledger.backend", s.backend)),
	)
	defer span.End()

	start := time.Now()
	snap, err := s.next.Fetch(ctx)
	s.record(ctx, "fetch", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("ledger.records", len(snap.Ledger)),
		attribute.String("ledger.version", string(snap.Version)),
	)
	if s.metrics != nil {
		s.metrics.LedgerSize.Record(ctx, int64(len(snap.Ledger)),
			metric.WithAttributes(attribute.String("backend", s.backend)))
	}
	span.SetStatus(codes.Ok, "")
	return snap, nil
}

func (s *instrumentedStore) Replace(ctx context.Context, ledger Ledger, ifMatch Version) error {
	ctx, span := s.tracer.Start(ctx, "ledger.replace",
		trace.WithAttributes(
			attribute.String("ledger.backend", s.backend),
			attribute.Int("ledger.records", len(ledger)),
			attribute.String("ledger.if_match", string(ifMatch)),
		),
	)
	defer span.End()

	start := time.Now()
	err := s.next.Replace(ctx, ledger, ifMatch)
	s.record(ctx, "replace", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Ping forwards to the wrapped store when it supports it.
func (s *instrumentedStore) Ping(ctx context.Context) error {
	if p, ok := s.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := s.Fetch(ctx)
	return err
}

func (s *instrumentedStore) record(ctx context.Context, op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", s.backend),
		attribute.String("operation", op),
	)
	s.metrics.StoreOperations.Add(ctx, 1, attrs)
	s.metrics.StoreDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		s.metrics.StoreFailures.Add(ctx, 1, attrs)
	}
}
