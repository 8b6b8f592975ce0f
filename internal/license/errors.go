package license

import "errors"

// Activation failures. Callers classify with errors.Is; adapters wrap the
// underlying cause with %w.
var (
	ErrMissingLicense     = errors.New("missing license")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrStoreNotConfigured = errors.New("store not configured")
	ErrLicenseNotFound    = errors.New("license not found")
	ErrLicenseExpired     = errors.New("license expired")
	ErrInconsistentRecord = errors.New("inconsistent record")
	ErrTooManyAttempts    = errors.New("too many activation attempts")
)

// Error codes used in API responses.
const (
	CodeMissingLicense     = "MISSING_LICENSE"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeLicenseNotFound    = "LICENSE_NOT_FOUND"
	CodeLicenseExpired     = "LICENSE_EXPIRED"
	CodeInconsistentRecord = "INCONSISTENT_RECORD"
	CodeTooManyAttempts    = "RATE_LIMITED"
)

// DenialMessage returns the user-facing message for an activation error.
// A not-configured store reads as unavailable with a more specific message.
func DenialMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingLicense):
		return ErrMissingLicense.Error()
	case errors.Is(err, ErrStoreNotConfigured):
		return ErrStoreNotConfigured.Error()
	case errors.Is(err, ErrStoreUnavailable):
		return ErrStoreUnavailable.Error()
	case errors.Is(err, ErrLicenseNotFound):
		return ErrLicenseNotFound.Error()
	case errors.Is(err, ErrLicenseExpired):
		return ErrLicenseExpired.Error()
	case errors.Is(err, ErrInconsistentRecord):
		return ErrInconsistentRecord.Error()
	case errors.Is(err, ErrTooManyAttempts):
		return ErrTooManyAttempts.Error()
	default:
		return ErrStoreUnavailable.Error()
	}
}

// ErrorCode returns the API error code for an activation error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingLicense):
		return CodeMissingLicense
	case errors.Is(err, ErrLicenseNotFound):
		return CodeLicenseNotFound
	case errors.Is(err, ErrLicenseExpired):
		return CodeLicenseExpired
	case errors.Is(err, ErrInconsistentRecord):
		return CodeInconsistentRecord
	case errors.Is(err, ErrTooManyAttempts):
		return CodeTooManyAttempts
	default:
		return CodeStoreUnavailable
	}
}

// IsUserError reports whether err was caused by the supplied license rather
// than by infrastructure. Only user errors count toward the attempt limiter.
func IsUserError(err error) bool {
	return errors.Is(err, ErrMissingLicense) ||
		errors.Is(err, ErrLicenseNotFound) ||
		errors.Is(err, ErrLicenseExpired)
}
