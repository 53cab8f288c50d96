package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/templates/be/service"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/httpjson"
	"github.com/zenGate-Global/palmyra-owner/platform/go/logging"
	"github.com/zenGate-Global/palmyra-owner/platform/go/problems"
	"github.com/zenGate-Global/palmyra-owner/platform/go/tenant"
	tenantmw "github.com/zenGate-Global/palmyra-owner/platform/go/tenant/middleware"
)

// Handler exposes template sync over HTTP.
type Handler struct {
	svc      *service.Service
	resolver tenantmw.Resolver
	logger   *zap.Logger
}

// New constructs a Handler. resolver backs the admin route that targets a
// tenant by id.
func New(svc *service.Service, resolver tenantmw.Resolver, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("templates service is required")
	}
	if resolver == nil {
		panic("tenant resolver is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, resolver: resolver, logger: logger}
}

// TenantRoutes mounts the endpoints served inside a resolved tenant space.
func (h *Handler) TenantRoutes(r chi.Router) {
	r.Post("/templates/apply", h.Apply)
	r.Get("/templates/version", h.Version)
}

// AdminRoutes mounts the admin endpoints.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/admin/tenants/{tenantId}/templates/apply", h.AdminApply)
}

type applyRequest struct {
	Key       *string `json:"key,omitempty"`
	Overwrite *bool   `json:"overwrite,omitempty"`
}

// VersionResponse carries the applied template version.
type VersionResponse struct {
	Version int `json:"version"`
}

// Apply implements POST /templates/apply
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeApply(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ApplyTemplate(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

// Version implements GET /templates/version
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.GetTemplateVersion(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, VersionResponse{Version: version})
}

// AdminApply implements POST /admin/tenants/{tenantId}/templates/apply
func (h *Handler) AdminApply(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.PathUUID(r, "tenantId")
	if err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}
	in, ok := h.decodeApply(w, r)
	if !ok {
		return
	}

	space, err := h.resolver.ResolveTenantSpace(r.Context(), id)
	switch {
	case errors.Is(err, tenantsservice.ErrNotFound):
		problems.Write(w, problems.New(http.StatusNotFound, problems.TypeNotFound, "Not found", err.Error()))
		return
	case errors.Is(err, tenantmw.ErrTenantUnavailable):
		problems.Write(w, problems.New(http.StatusConflict, problems.TypeConflict, "Conflict", err.Error()))
		return
	case err != nil:
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.ApplyTemplate(tenant.WithSpace(r.Context(), space), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

func (h *Handler) decodeApply(w http.ResponseWriter, r *http.Request) (service.ApplyInput, bool) {
	var body applyRequest
	if err := httpjson.Decode(r, &body, true); err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return service.ApplyInput{}, false
	}
	in := service.ApplyInput{Overwrite: body.Overwrite}
	if body.Key != nil {
		in.Key = *body.Key
	}
	return in, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		problems.Write(w, problems.Validation("template is invalid", verr.Fields))
	case errors.Is(err, service.ErrNotFound):
		problems.Write(w, problems.New(http.StatusNotFound, problems.TypeNotFound, "Not found", err.Error()))
	case errors.Is(err, service.ErrNoTenantSpace):
		problems.Write(w, problems.New(http.StatusUnauthorized, problems.TypeUnauthorized, "Unauthorized", "tenant space required"))
	default:
		logging.FromContextOr(r.Context(), h.logger).Error("template operation failed", zap.Error(err))
		problems.Write(w, problems.New(http.StatusInternalServerError, problems.TypeInternal, "Internal error", "internal error"))
	}
}
