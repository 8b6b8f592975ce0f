package session

import "github.com/google/uuid"

var newDeviceID = uuid.NewString

// CurrentDeviceID returns the device identity of this session, generating a
// random one on first use. The id lives only as long as the session object;
// a reconnect gets a new session and therefore a new device id.
func (s *Session) CurrentDeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceID == "" {
		s.deviceID = newDeviceID()
	}
	return s.deviceID
}
