package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/service"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/httpjson"
	"github.com/zenGate-Global/palmyra-owner/platform/go/logging"
	"github.com/zenGate-Global/palmyra-owner/platform/go/problems"
)

// Handler exposes provisioning operations to admins.
type Handler struct {
	svc    *service.Service
	stream http.Handler
	logger *zap.Logger
}

// New constructs a Handler. stream serves the live event websocket and may be nil.
func New(svc *service.Service, stream http.Handler, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("provisioning service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, stream: stream, logger: logger}
}

// Routes mounts the provisioning endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/admin/tenants/{tenantId}/provision", h.Provision)
	r.Get("/admin/tenants/{tenantId}/provision-status", h.ProvisionStatus)
	r.Get("/admin/tenants/{tenantId}/provision-audit", h.ProvisionAudit)
	if h.stream != nil {
		r.Get("/admin/provisioning/events", h.stream.ServeHTTP)
	}
}

type provisionRequest struct {
	Force *bool `json:"force,omitempty"`
}

// AuditList wraps audit entries.
type AuditList struct {
	Items []service.AuditEntry `json:"items"`
}

// Provision implements POST /admin/tenants/{tenantId}/provision
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.PathUUID(r, "tenantId")
	if err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}

	var body provisionRequest
	if err := httpjson.Decode(r, &body, true); err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}
	force := body.Force != nil && *body.Force

	res, err := h.svc.Provision(r.Context(), id, force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusAccepted, res)
}

// ProvisionStatus implements GET /admin/tenants/{tenantId}/provision-status
func (h *Handler) ProvisionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.PathUUID(r, "tenantId")
	if err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}

	res, err := h.svc.GetStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

// ProvisionAudit implements GET /admin/tenants/{tenantId}/provision-audit
func (h *Handler) ProvisionAudit(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.PathUUID(r, "tenantId")
	if err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}
	limit, err := httpjson.QueryInt(r, "limit")
	if err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	items, err := h.svc.ListAudit(r.Context(), id, n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []service.AuditEntry{}
	}
	httpjson.Write(w, http.StatusOK, AuditList{Items: items})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		problems.Write(w, problems.New(http.StatusNotFound, problems.TypeNotFound, "Not found", err.Error()))
	case errors.Is(err, service.ErrTenantDisabled), errors.Is(err, tenantsservice.ErrInvalidTransition):
		problems.Write(w, problems.New(http.StatusConflict, problems.TypeConflict, "Conflict", err.Error()))
	case errors.Is(err, service.ErrServiceUnavailable):
		problems.Write(w, problems.New(http.StatusServiceUnavailable, problems.TypeServiceUnavailable, "Service unavailable", err.Error()))
	case errors.Is(err, service.ErrUpstream):
		logging.FromContextOr(r.Context(), h.logger).Warn("deployment platform failure", zap.Error(err))
		problems.Write(w, problems.New(http.StatusBadGateway, problems.TypeUpstream, "Upstream failure", err.Error()))
	default:
		logging.FromContextOr(r.Context(), h.logger).Error("provisioning operation failed", zap.Error(err))
		problems.Write(w, problems.New(http.StatusInternalServerError, problems.TypeInternal, "Internal error", "internal error"))
	}
}
