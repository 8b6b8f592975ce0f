package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"scholarpass/internal/imaging"
	"scholarpass/internal/inference"
	"scholarpass/internal/license"
	"scholarpass/internal/validation"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details. Domain
// sentinels are matched before context errors because adapters wrap the
// context error they hit.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErrorToProblem(apiErr, r)
	}

	if p := licenseProblem(err, r); p != nil {
		return p
	}

	switch {
	case errors.Is(err, inference.ErrUnreadableImage):
		return NewProblemDetails(http.StatusUnprocessableEntity, TypeImageUnreadable,
			"Image Unreadable", "图片太模糊，AI 看不清，请重拍。", r.URL.Path).
			WithExtension("error_code", "IMAGE_UNREADABLE")

	case errors.Is(err, inference.ErrNotConfigured):
		return NewProblemDetails(http.StatusServiceUnavailable, TypeInferenceNotReady,
			"Analysis Not Configured", "analysis provider not configured", r.URL.Path).
			WithExtension("error_code", "INFERENCE_NOT_CONFIGURED")

	case errors.Is(err, inference.ErrInferenceUnavailable):
		return NewProblemDetails(http.StatusBadGateway, TypeInferenceDown,
			"Analysis Unavailable", "analysis provider unavailable, please retry", r.URL.Path).
			WithExtension("error_code", "INFERENCE_UNAVAILABLE")

	case errors.Is(err, inference.ErrUnknownSubject):
		return NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Validation Failed", err.Error(), r.URL.Path).
			WithExtension("error_code", "UNKNOWN_SUBJECT")

	case errors.Is(err, validation.ErrEmptyImage):
		return NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Validation Failed", "the uploaded image is empty", r.URL.Path).
			WithExtension("error_code", "VALIDATION_FAILED")

	case errors.Is(err, validation.ErrImageDimensions):
		return NewProblemDetails(http.StatusUnprocessableEntity, TypeImageDimensions,
			"Image Size Rejected", err.Error(), r.URL.Path).
			WithExtension("error_code", "IMAGE_DIMENSIONS")

	case errors.Is(err, imaging.ErrUnsupportedImage):
		return NewProblemDetails(http.StatusUnsupportedMediaType, TypeUnsupportedMedia,
			"Unsupported Image", "upload a JPEG, PNG or WebP photo", r.URL.Path).
			WithExtension("error_code", "UNSUPPORTED_IMAGE")
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return NewProblemDetails(http.StatusRequestEntityTooLarge, TypePayloadTooLarge,
			"Payload Too Large",
			fmt.Sprintf("the request body exceeds %d bytes", maxBytes.Limit), r.URL.Path).
			WithExtension("error_code", "PAYLOAD_TOO_LARGE")
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled", r.URL.Path)
	}

	return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request", r.URL.Path)
}

// licenseProblem maps activation errors. The detail is the user-facing
// denial message.
func licenseProblem(err error, r *http.Request) *ProblemDetails {
	var (
		status int
		typ    string
		title  string
	)
	switch {
	case errors.Is(err, license.ErrMissingLicense):
		status, typ, title = http.StatusBadRequest, TypeLicenseMissing, "License Required"
	case errors.Is(err, license.ErrTooManyAttempts):
		status, typ, title = http.StatusTooManyRequests, TypeRateLimit, "Too Many Attempts"
	case errors.Is(err, license.ErrLicenseNotFound):
		status, typ, title = http.StatusNotFound, TypeLicenseNotFound, "License Not Found"
	case errors.Is(err, license.ErrLicenseExpired):
		status, typ, title = http.StatusForbidden, TypeLicenseExpired, "License Expired"
	case errors.Is(err, license.ErrInconsistentRecord):
		status, typ, title = http.StatusConflict, TypeLicenseInconsistent, "Inconsistent License Record"
	case errors.Is(err, license.ErrStoreNotConfigured):
		status, typ, title = http.StatusServiceUnavailable, TypeStoreNotConfigured, "License Store Not Configured"
	case errors.Is(err, license.ErrStoreUnavailable):
		status, typ, title = http.StatusServiceUnavailable, TypeStoreUnavailable, "License Store Unavailable"
	default:
		return nil
	}

	p := NewProblemDetails(status, typ, title, license.DenialMessage(err), r.URL.Path).
		WithExtension("error_code", license.ErrorCode(err))
	if status == http.StatusTooManyRequests {
		p.WithExtension("retry_after", 60)
	}
	return p
}

func apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "INVALID_REQUEST", "VALIDATION_FAILED":
		problemType = TypeValidation
	case "NOT_FOUND":
		problemType = TypeNotFound
	case "LICENSE_REQUIRED":
		problemType = TypeLicenseRequired
	case "RATE_LIMIT_EXCEEDED":
		problemType = TypeRateLimit
	case "SERVICE_UNAVAILABLE":
		problemType = TypeServiceDown
	case "WEBSOCKET_UPGRADE_FAILED":
		problemType = TypeWebSocketUpgrade
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}
	return problem
}

// HandlePanic recovers from panics and returns RFC 7807 error
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", reqID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethodNotAllowed,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
