// Package testutil provides helpers shared by tests across packages.
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogRecord is one captured log entry. Attribute keys are qualified by any
// groups opened with WithGroup.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// String formats the record the way failure output prints it.
func (r LogRecord) String() string {
	return fmt.Sprintf("[%s] %s %v", r.Level, r.Message, r.Attrs)
}

type logStore struct {
	mu      sync.Mutex
	records []LogRecord
}

// LogCapture is an slog.Handler that keeps every record in memory. Handlers
// derived with WithAttrs and WithGroup share the same store.
type LogCapture struct {
	store  *logStore
	attrs  []slog.Attr
	groups []string
	level  slog.Level
}

// NewLogCapture returns a logger writing to a fresh capture at debug level.
func NewLogCapture() (*slog.Logger, *LogCapture) {
	c := &LogCapture{store: &logStore{}, level: slog.LevelDebug}
	return slog.New(c), c
}

// Enabled implements slog.Handler.
func (c *LogCapture) Enabled(_ context.Context, level slog.Level) bool {
	return level >= c.level
}

// Handle implements slog.Handler.
func (c *LogCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(c.attrs)+r.NumAttrs())
	prefix := ""
	if len(c.groups) > 0 {
		prefix = strings.Join(c.groups, ".") + "."
	}
	for _, a := range c.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})

	c.store.mu.Lock()
	c.store.records = append(c.store.records, LogRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	c.store.mu.Unlock()
	return nil
}

// WithAttrs implements slog.Handler.
func (c *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *c
	prefix := ""
	if len(c.groups) > 0 {
		prefix = strings.Join(c.groups, ".") + "."
	}
	next.attrs = append([]slog.Attr(nil), c.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &next
}

// WithGroup implements slog.Handler.
func (c *LogCapture) WithGroup(name string) slog.Handler {
	if name == "" {
		return c
	}
	next := *c
	next.groups = append(append([]string(nil), c.groups...), name)
	return &next
}

// Records returns a copy of everything captured so far.
func (c *LogCapture) Records() []LogRecord {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return append([]LogRecord(nil), c.store.records...)
}

// Find returns the first record at level whose message contains msg.
func (c *LogCapture) Find(level slog.Level, msg string) (LogRecord, bool) {
	for _, r := range c.Records() {
		if r.Level == level && strings.Contains(r.Message, msg) {
			return r, true
		}
	}
	return LogRecord{}, false
}

// Contains reports whether any attribute value of any record contains s.
func (c *LogCapture) Contains(s string) bool {
	for _, r := range c.Records() {
		if strings.Contains(r.Message, s) {
			return true
		}
		for _, v := range r.Attrs {
			if strings.Contains(fmt.Sprint(v), s) {
				return true
			}
		}
	}
	return false
}

// RequireLogged fails the test unless a record at level contains msg, and
// returns that record.
func (c *LogCapture) RequireLogged(t testing.TB, level slog.Level, msg string) LogRecord {
	t.Helper()
	r, ok := c.Find(level, msg)
	if !ok {
		t.Fatalf("no %s record containing %q; captured:\n%s", level, msg, c.dump())
	}
	return r
}

func (c *LogCapture) dump() string {
	var b strings.Builder
	for _, r := range c.Records() {
		b.WriteString("  ")
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	return b.String()
}
