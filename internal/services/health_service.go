package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"scholarpass/internal/infrastructure"
	"scholarpass/internal/license"
	"scholarpass/pkg/contracts"
)

// StatsSource provides the latest runtime snapshot.
// *infrastructure.RuntimeCollector implements it.
type StatsSource interface {
	Latest(ctx context.Context) *infrastructure.RuntimeStats
}

// HealthService provides health check functionality
type HealthService struct {
	store     license.Store
	backend   string
	ocr       Recognizer
	reasoner  Explainer
	stats     StatsSource
	sessions  func() map[string]interface{}
	timeout   time.Duration
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                       `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Version   string                       `json:"version"`
	Runtime   *infrastructure.RuntimeStats `json:"runtime,omitempty"`
	Sessions  map[string]interface{}       `json:"sessions,omitempty"`
	Services  map[string]ServiceHealth     `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health states.
const (
	StatusReady         = "ready"
	StatusNotReady      = "not_ready"
	StatusNotConfigured = "not_configured"
)

// NewHealthService creates a health service. store may be nil when no
// ledger backend is configured; stats may be nil.
func NewHealthService(store license.Store, backend string, ocr Recognizer, reasoner Explainer, stats StatsSource, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &HealthService{
		store:     store,
		backend:   backend,
		ocr:       ocr,
		reasoner:  reasoner,
		stats:     stats,
		timeout:   3 * time.Second,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// WithSessionStats adds the session registry counters to liveness
// reports. Only the in-memory registry has them.
func (hs *HealthService) WithSessionStats(fn func() map[string]interface{}) *HealthService {
	hs.sessions = fn
	return hs
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   contracts.Version,
	}
}

// ReadinessCheck probes the ledger store and reports which providers are
// configured. Only the ledger decides readiness; missing AI keys degrade
// analysis to "not configured" without taking the service out of rotation.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Services: map[string]ServiceHealth{
			"ledger":    hs.checkLedger(ctx),
			"ocr":       providerHealth(hs.ocr != nil && hs.ocr.Configured()),
			"reasoning": providerHealth(hs.reasoner != nil && hs.reasoner.Configured()),
		},
	}

	if status.Services["ledger"].Status != StatusReady {
		status.Status = StatusNotReady
		hs.logger.WarnContext(ctx, "readiness check failed",
			slog.String("ledger", status.Services["ledger"].Message))
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   contracts.Version,
	}
	if hs.stats != nil {
		status.Runtime = hs.stats.Latest(ctx)
	}
	if hs.sessions != nil {
		status.Sessions = hs.sessions()
	}
	return status
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	info := contracts.GetVersionInfo()
	return map[string]interface{}{
		"version":      info.Version,
		"api_version":  info.APIVersion,
		"build_time":   info.BuildTime,
		"git_commit":   info.GitCommit,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}
}

func (hs *HealthService) checkLedger(ctx context.Context) ServiceHealth {
	if hs.store == nil {
		return ServiceHealth{Status: StatusNotConfigured, Message: "ledger store not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	if p, ok := hs.store.(license.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return ServiceHealth{Status: StatusNotReady, Message: fmt.Sprintf("%s ledger: %v", hs.backend, err)}
		}
		return ServiceHealth{Status: StatusReady, Message: hs.backend + " ledger reachable"}
	}

	if _, err := hs.store.Fetch(ctx); err != nil {
		return ServiceHealth{Status: StatusNotReady, Message: fmt.Sprintf("%s ledger: %v", hs.backend, err)}
	}
	return ServiceHealth{Status: StatusReady, Message: hs.backend + " ledger reachable"}
}

func providerHealth(configured bool) ServiceHealth {
	if configured {
		return ServiceHealth{Status: StatusReady}
	}
	return ServiceHealth{Status: StatusNotConfigured, Message: "api key missing"}
}
