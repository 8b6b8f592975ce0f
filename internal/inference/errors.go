package inference

import "errors"

var (
	// ErrNotConfigured means the provider API key is missing.
	ErrNotConfigured = errors.New("not configured")
	// ErrInferenceUnavailable covers transport failures, timeouts, non-2xx
	// responses and empty completions.
	ErrInferenceUnavailable = errors.New("inference unavailable")
	// ErrUnreadableImage means the vision model answered without any text.
	ErrUnreadableImage = errors.New("image unreadable")
	// ErrUnknownSubject is returned for a subject outside the catalog.
	ErrUnknownSubject = errors.New("unknown subject")
)
