package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeStats is a point-in-time view of the process.
type RuntimeStats struct {
	Goroutines   int64         `json:"goroutines"`
	HeapAlloc    int64         `json:"heap_alloc_bytes"`
	SystemMemory int64         `json:"system_memory_bytes"`
	GCCount      uint32        `json:"gc_count"`
	LastGCPause  time.Duration `json:"last_gc_pause_ns"`
	CPUCount     int           `json:"cpu_count"`
	Uptime       time.Duration `json:"uptime_ns"`
	CollectedAt  time.Time     `json:"collected_at"`
}

// RuntimeCollector periodically records Go runtime gauges and keeps the
// latest snapshot for the health endpoint.
type RuntimeCollector struct {
	goroutines   metric.Int64Gauge
	heapAlloc    metric.Int64Gauge
	systemMemory metric.Int64Gauge
	gcPause      metric.Float64Histogram
	uptime       metric.Float64Gauge

	startTime time.Time
	interval  time.Duration

	mu     sync.RWMutex
	latest *RuntimeStats

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRuntimeCollector creates the runtime instruments on meter.
func NewRuntimeCollector(meter metric.Meter, interval time.Duration) (*RuntimeCollector, error) {
	c := &RuntimeCollector{
		startTime: time.Now(),
		interval:  interval,
		stopCh:    make(chan struct{}),
	}

	var err error
	if c.goroutines, err = meter.Int64Gauge("runtime_goroutines",
		metric.WithDescription("Number of active goroutines")); err != nil {
		return nil, fmt.Errorf("failed to create goroutine gauge: %w", err)
	}
	if c.heapAlloc, err = meter.Int64Gauge("runtime_heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create heap gauge: %w", err)
	}
	if c.systemMemory, err = meter.Int64Gauge("runtime_system_memory_bytes",
		metric.WithDescription("Memory obtained from the OS"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create system memory gauge: %w", err)
	}
	if c.gcPause, err = meter.Float64Histogram("runtime_gc_pause_seconds",
		metric.WithDescription("Most recent GC pause"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create gc pause histogram: %w", err)
	}
	if c.uptime, err = meter.Float64Gauge("process_uptime_seconds",
		metric.WithDescription("Seconds since the process started"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create uptime gauge: %w", err)
	}

	return c, nil
}

// Collect reads the runtime, records the gauges and stores the snapshot.
func (c *RuntimeCollector) Collect(ctx context.Context) *RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := &RuntimeStats{
		Goroutines:   int64(runtime.NumGoroutine()),
		HeapAlloc:    int64(mem.HeapAlloc),
		SystemMemory: int64(mem.Sys),
		GCCount:      mem.NumGC,
		LastGCPause:  time.Duration(mem.PauseNs[(mem.NumGC+255)%256]),
		CPUCount:     runtime.NumCPU(),
		Uptime:       time.Since(c.startTime),
		CollectedAt:  time.Now(),
	}

	c.goroutines.Record(ctx, stats.Goroutines)
	c.heapAlloc.Record(ctx, stats.HeapAlloc)
	c.systemMemory.Record(ctx, stats.SystemMemory)
	c.uptime.Record(ctx, stats.Uptime.Seconds())
	if stats.LastGCPause > 0 {
		c.gcPause.Record(ctx, stats.LastGCPause.Seconds())
	}

	c.mu.Lock()
	c.latest = stats
	c.mu.Unlock()
	return stats
}

// Latest returns the most recent snapshot, collecting one if none exists.
func (c *RuntimeCollector) Latest(ctx context.Context) *RuntimeStats {
	c.mu.RLock()
	latest := c.latest
	c.mu.RUnlock()
	if latest == nil {
		return c.Collect(ctx)
	}
	return latest
}

// Start collects until ctx is done or Stop is called.
func (c *RuntimeCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)
	for {
		select {
		case <-ticker.C:
			c.Collect(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends collection. Safe to call more than once.
func (c *RuntimeCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
