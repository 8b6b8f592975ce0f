package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the per-connection authorization context. One Session exists
// per browser session; it is passed explicitly to handlers and never shared
// through package state.
type Session struct {
	mu          sync.Mutex
	id          string
	deviceID    string
	authorized  bool
	license     string
	forceLogout bool
	createdAt   time.Time
	lastSeen    time.Time
}

// State is the serializable form of a Session.
type State struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id,omitempty"`
	Authorized  bool      `json:"authorized"`
	License     string    `json:"license,omitempty"`
	ForceLogout bool      `json:"force_logout"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// New creates an empty session with a fresh random id.
func New() *Session {
	now := time.Now()
	return &Session{
		id:        uuid.NewString(),
		createdAt: now,
		lastSeen:  now,
	}
}

// FromState rebuilds a session from its stored form.
func FromState(st State) *Session {
	return &Session{
		id:          st.ID,
		deviceID:    st.DeviceID,
		authorized:  st.Authorized,
		license:     st.License,
		forceLogout: st.ForceLogout,
		createdAt:   st.CreatedAt,
		lastSeen:    st.LastSeen,
	}
}

// State returns a copy of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:          s.id,
		DeviceID:    s.deviceID,
		Authorized:  s.authorized,
		License:     s.license,
		ForceLogout: s.forceLogout,
		CreatedAt:   s.createdAt,
		LastSeen:    s.lastSeen,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Authorized returns the cached license when the session is logged in.
func (s *Session) Authorized() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.license, s.authorized
}

// ForcedOut reports whether the user explicitly logged out.
func (s *Session) ForcedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceLogout
}

// MarkActivated records a successful activation. It is the only way to clear
// the force-logout flag.
func (s *Session) MarkActivated(license string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = true
	s.license = license
	s.forceLogout = false
}

// cacheAuthorization records a login derived from a token. The force-logout
// flag is left alone.
func (s *Session) cacheAuthorization(license string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = true
	s.license = license
}

// ForceLogout drops the cached authorization and blocks token re-login until
// the next successful activation.
func (s *Session) ForceLogout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = false
	s.license = ""
	s.forceLogout = true
}

// Touch updates the last-seen time.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}
