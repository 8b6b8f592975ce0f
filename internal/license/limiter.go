package license

import (
	"log/slog"
	"sync"
	"time"
)

// AttemptLimiter blocks a client key after too many failed activation
// attempts inside a window.
type AttemptLimiter struct {
	mutex          sync.Mutex
	attempts       map[string]int
	lastAttempts   map[string]time.Time
	blocked        map[string]time.Time
	maxAttempts    int
	windowDuration time.Duration
	blockDuration  time.Duration

	now      func() time.Time
	logger   *slog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewAttemptLimiter creates a limiter and starts its cleanup loop. A
// non-positive maxAttempts disables blocking.
func NewAttemptLimiter(maxAttempts int, window, block time.Duration, logger *slog.Logger) *AttemptLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &AttemptLimiter{
		attempts:       make(map[string]int),
		lastAttempts:   make(map[string]time.Time),
		blocked:        make(map[string]time.Time),
		maxAttempts:    maxAttempts,
		windowDuration: window,
		blockDuration:  block,
		now:            time.Now,
		logger:         logger.With(slog.String("component", "attempt_limiter")),
		stopChan:       make(chan struct{}),
	}
	go l.cleanup(5 * time.Minute)
	return l
}

// IsBlocked reports whether key is currently blocked.
func (l *AttemptLimiter) IsBlocked(key string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	blockedAt, ok := l.blocked[key]
	if !ok {
		return false
	}
	if l.now().Sub(blockedAt) < l.blockDuration {
		return true
	}
	delete(l.blocked, key)
	delete(l.attempts, key)
	delete(l.lastAttempts, key)
	return false
}

// RecordSuccess clears the failure history of key.
func (l *AttemptLimiter) RecordSuccess(key string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	delete(l.attempts, key)
	delete(l.lastAttempts, key)
}

// RecordFailure counts a failed attempt and returns false when key is now
// blocked.
func (l *AttemptLimiter) RecordFailure(key string) bool {
	if l.maxAttempts <= 0 {
		return true
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	if last, ok := l.lastAttempts[key]; ok && now.Sub(last) <= l.windowDuration {
		l.attempts[key]++
	} else {
		l.attempts[key] = 1
	}
	l.lastAttempts[key] = now

	if l.attempts[key] >= l.maxAttempts {
		l.blocked[key] = now
		l.logger.Warn("client blocked after repeated failed activations",
			slog.String("client", key),
			slog.Int("attempt_count", l.attempts[key]),
			slog.Int("max_attempts", l.maxAttempts),
		)
		return false
	}
	return true
}

// Stop ends the cleanup loop.
func (l *AttemptLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

func (l *AttemptLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.purge()
		case <-l.stopChan:
			return
		}
	}
}

func (l *AttemptLimiter) purge() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	for key, blockedAt := range l.blocked {
		if now.Sub(blockedAt) >= l.blockDuration {
			delete(l.blocked, key)
		}
	}
	for key, last := range l.lastAttempts {
		if now.Sub(last) > l.windowDuration {
			if _, stillBlocked := l.blocked[key]; !stillBlocked {
				delete(l.lastAttempts, key)
				delete(l.attempts, key)
			}
		}
	}
}
