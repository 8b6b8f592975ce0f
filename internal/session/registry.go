package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CookieName names the browser-session cookie that keys the registry. It is
// set without expiry, so closing the browser starts a new session.
const CookieName = "sp_sid"

// ErrCorruptSession is returned by Load when stored state cannot be decoded.
// The entry should be deleted.
var ErrCorruptSession = errors.New("corrupt session")

// Registry keeps sessions between requests of the same browser session.
type Registry interface {
	Load(ctx context.Context, id string) (*Session, bool, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

type registryEntry struct {
	session   *Session
	savedAt   time.Time
	expiresAt time.Time
	hitCount  int
}

// MemoryRegistry is an in-process Registry with idle expiry and a size cap.
type MemoryRegistry struct {
	entries   map[string]registryEntry
	mutex     sync.RWMutex
	ttl       time.Duration
	maxSize   int
	hitCount  int64
	missCount int64
	now       func() time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewMemoryRegistry creates a registry and starts its cleanup loop.
func NewMemoryRegistry(ttl time.Duration, maxSize int) *MemoryRegistry {
	r := &MemoryRegistry{
		entries:  make(map[string]registryEntry),
		ttl:      ttl,
		maxSize:  maxSize,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go r.cleanup()

	return r
}

// Load returns the live session for id.
func (r *MemoryRegistry) Load(_ context.Context, id string) (*Session, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry, exists := r.entries[id]
	if !exists || r.now().After(entry.expiresAt) {
		r.missCount++
		return nil, false, nil
	}

	entry.hitCount++
	r.entries[id] = entry
	r.hitCount++

	return entry.session, true, nil
}

// Save stores s and refreshes its idle expiry.
func (r *MemoryRegistry) Save(_ context.Context, s *Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.maxSize <= 0 {
		return nil
	}

	id := s.ID()
	entry, exists := r.entries[id]
	if !exists && len(r.entries) >= r.maxSize {
		r.evictOldest()
	}

	now := r.now()
	entry.session = s
	entry.savedAt = now
	entry.expiresAt = now.Add(r.ttl)
	r.entries[id] = entry
	return nil
}

// Delete removes id.
func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.entries, id)
	return nil
}

// GetStats returns registry statistics.
func (r *MemoryRegistry) GetStats() map[string]interface{} {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	totalRequests := r.hitCount + r.missCount
	hitRatio := float64(0)
	if totalRequests > 0 {
		hitRatio = float64(r.hitCount) / float64(totalRequests)
	}

	return map[string]interface{}{
		"sessions":    len(r.entries),
		"max_size":    r.maxSize,
		"hit_count":   r.hitCount,
		"miss_count":  r.missCount,
		"hit_ratio":   hitRatio,
		"ttl_seconds": r.ttl.Seconds(),
	}
}

func (r *MemoryRegistry) evictOldest() {
	var oldestID string
	var oldestTime time.Time

	for id, entry := range r.entries {
		if oldestID == "" || entry.savedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = entry.savedAt
		}
	}

	if oldestID != "" {
		delete(r.entries, oldestID)
	}
}

// Stop ends the cleanup goroutine.
func (r *MemoryRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

func (r *MemoryRegistry) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.purgeExpired()
		case <-r.stopChan:
			return
		}
	}
}

func (r *MemoryRegistry) purgeExpired() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	for id, entry := range r.entries {
		if now.After(entry.expiresAt) {
			delete(r.entries, id)
		}
	}
}
