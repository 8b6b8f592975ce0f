package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"

	apierrors "scholarpass/internal/errors"
	"scholarpass/internal/infrastructure"
	"scholarpass/internal/license"
	"scholarpass/internal/middleware"
	"scholarpass/internal/services"
	api "scholarpass/pkg/contracts/api/v1"
)

// multipartMemory is how much of an upload is held in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

// Analyzer is implemented by *services.AnalysisService.
type Analyzer interface {
	Analyze(ctx context.Context, in services.AnalysisInput, progress services.ProgressFunc) (*api.AnalysisResponse, error)
	Subjects() *api.SubjectsResponse
}

// AnalysisHandler serves the subject catalog and the one-shot photo
// analysis endpoint.
type AnalysisHandler struct {
	analyzer  Analyzer
	validator *middleware.Validator
	errors    *apierrors.ErrorHandler
	maxUpload int64
	logger    *slog.Logger
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(analyzer Analyzer, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, maxUpload int64, logger *slog.Logger) *AnalysisHandler {
	if maxUpload <= 0 {
		maxUpload = 15 << 20
	}
	return &AnalysisHandler{
		analyzer:  analyzer,
		validator: validator,
		errors:    errorHandler,
		maxUpload: maxUpload,
		logger:    logger.With(slog.String("handler", "analysis")),
	}
}

// Subjects handles GET /api/subjects
func (h *AnalysisHandler) Subjects(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.analyzer.Subjects())
}

// Analyze handles POST /api/analysis. The body is multipart/form-data
// with the photo in "image" and the subject and task as plain fields.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			h.errors.HandleError(w, r, maxBytes)
			return
		}
		h.errors.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	req := api.AnalysisRequest{
		Subject: r.FormValue("subject"),
		Task:    r.FormValue("task"),
	}
	if err := h.validator.Struct(&req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.errors.HandleError(w, r, apierrors.ErrValidation("image", "image is required"))
		return
	}
	defer file.Close()

	if d, ok := middleware.DecisionFromContext(r.Context()); ok {
		infrastructure.SetSpanAttributes(r.Context(), attribute.String("license", license.MaskLicense(d.License)))
	}

	h.logger.DebugContext(r.Context(), "analysis upload received",
		slog.String("subject", req.Subject),
		slog.String("filename", header.Filename),
		slog.Int64("size", header.Size),
	)

	resp, err := h.analyzer.Analyze(r.Context(), services.AnalysisInput{
		Subject: req.Subject,
		Task:    req.Task,
		Image:   file,
	}, nil)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}
