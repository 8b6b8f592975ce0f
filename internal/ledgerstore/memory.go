package ledgerstore

import (
	"context"
	"strconv"
	"sync"

	"scholarpass/internal/license"
)

// MemoryHooks run outside the store lock and let tests interleave
// concurrent fetch and replace calls.
type MemoryHooks struct {
	AfterFetch    func(ctx context.Context)
	BeforeReplace func(ctx context.Context, ledger license.Ledger)
}

// Memory keeps the ledger document in process. It stores the encoded JSON
// so every Fetch returns an independent copy, the way a remote document
// would.
type Memory struct {
	mu         sync.Mutex
	doc        []byte
	revision   int
	fetchErr   error
	replaceErr error
	hooks      MemoryHooks
	replaces   []license.Version
}

// NewMemory creates a memory store holding initial.
func NewMemory(initial license.Ledger) *Memory {
	m := &Memory{}
	if initial != nil {
		doc, err := license.EncodeLedger(initial)
		if err == nil {
			m.doc = doc
		}
	}
	return m
}

// NewMemoryFromJSON creates a memory store holding a raw document.
func NewMemoryFromJSON(doc []byte) *Memory {
	return &Memory{doc: append([]byte(nil), doc...)}
}

// Fetch decodes the current document.
func (m *Memory) Fetch(ctx context.Context) (*license.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.fetchErr != nil {
		err := m.fetchErr
		m.mu.Unlock()
		return nil, err
	}
	doc := append([]byte(nil), m.doc...)
	version := license.Version(strconv.Itoa(m.revision))
	hook := m.hooks.AfterFetch
	m.mu.Unlock()

	ledger, err := license.DecodeLedger(doc)
	if err != nil {
		return nil, err
	}

	if hook != nil {
		hook(ctx)
	}
	return &license.Snapshot{Ledger: ledger, Version: version}, nil
}

// Replace overwrites the document unconditionally. ifMatch is recorded for
// inspection only.
func (m *Memory) Replace(ctx context.Context, ledger license.Ledger, ifMatch license.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	hook := m.hooks.BeforeReplace
	m.mu.Unlock()
	if hook != nil {
		hook(ctx, ledger)
	}

	doc, err := license.EncodeLedger(ledger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.doc = doc
	m.revision++
	m.replaces = append(m.replaces, ifMatch)
	return nil
}

// Ping always succeeds unless a fetch error is injected.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchErr
}

// SetFetchError makes every Fetch fail with err until cleared with nil.
func (m *Memory) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// SetReplaceError makes every Replace fail with err until cleared with nil.
func (m *Memory) SetReplaceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceErr = err
}

// SetHooks installs interleaving hooks.
func (m *Memory) SetHooks(h MemoryHooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

// Ledger returns the current document decoded.
func (m *Memory) Ledger() license.Ledger {
	m.mu.Lock()
	doc := append([]byte(nil), m.doc...)
	m.mu.Unlock()

	ledger, err := license.DecodeLedger(doc)
	if err != nil {
		return nil
	}
	return ledger
}

// Document returns the raw stored JSON.
func (m *Memory) Document() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.doc...)
}

// Replaces returns the ifMatch versions seen by successful Replace calls.
func (m *Memory) Replaces() []license.Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]license.Version(nil), m.replaces...)
}
