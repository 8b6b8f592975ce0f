package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "scholarpass/internal/errors"
	"scholarpass/internal/middleware"
	"scholarpass/internal/services"
	"scholarpass/internal/session"
	api "scholarpass/pkg/contracts/api/v1"
)

// LicenseHandler handles the login endpoints
type LicenseHandler struct {
	service       services.LicenseService
	validator     *middleware.Validator
	errors        *apierrors.ErrorHandler
	secureCookies bool
	logger        *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, secureCookies bool, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:       service,
		validator:     validator,
		errors:        errorHandler,
		secureCookies: secureCookies,
		logger:        logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.ContentTypeValidator(h.errors, "application/json")).Post("/activate", h.Activate)
	r.Get("/status", h.Status)
	r.Post("/logout", h.Logout)
	return r
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseActivateRequest
	if err := h.validator.DecodeJSON(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Activate(r.Context(), h.session(r), h.jar(w, r), middleware.ClientKey(r), req.LicenseKey)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	if !resp.Persisted {
		h.logger.WarnContext(r.Context(), "activation not persisted to ledger",
			slog.String("outcome", resp.Outcome))
	}
	render.JSON(w, r, resp)
}

// Status handles GET /api/license/status
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Status(r.Context(), h.session(r), h.jar(w, r)))
}

// Logout handles POST /api/license/logout
func (h *LicenseHandler) Logout(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Logout(r.Context(), h.session(r), h.jar(w, r)))
}

func (h *LicenseHandler) jar(w http.ResponseWriter, r *http.Request) session.Jar {
	return session.NewCookieJar(w, r, h.secureCookies)
}

// session returns the request's session. Without the Sessions middleware a
// throwaway session is used, so nothing is remembered between requests.
func (h *LicenseHandler) session(r *http.Request) *session.Session {
	if s, ok := middleware.SessionFromContext(r.Context()); ok {
		return s
	}
	h.logger.WarnContext(r.Context(), "no session on request, using a throwaway session")
	return session.New()
}
