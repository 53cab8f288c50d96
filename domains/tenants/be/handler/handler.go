package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-owner/platform/go/httpjson"
	"github.com/zenGate-Global/palmyra-owner/platform/go/logging"
	"github.com/zenGate-Global/palmyra-owner/platform/go/problems"
)

// Handler exposes the tenant registry over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the admin tenant endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/admin/tenants", h.TenantsList)
	r.Post("/admin/tenants", h.TenantsCreate)
	r.Get("/admin/tenants/{tenantId}", h.TenantsGet)
	r.Patch("/admin/tenants/{tenantId}", h.TenantsUpdateStatus)
}

// Tenant is the wire representation of a tenant.
type Tenant struct {
	TenantID    uuid.UUID `json:"tenantId"`
	Slug        string    `json:"slug"`
	CompanyName string    `json:"companyName"`
	Status      string    `json:"status"`
	DBName      string    `json:"dbName"`
	RoleName    string    `json:"roleName"`
	Region      *string   `json:"region,omitempty"`
	NodeRef     *string   `json:"nodeRef,omitempty"`
	PlanRef     *string   `json:"planRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TenantList is a page of tenants.
type TenantList struct {
	Items      []Tenant `json:"items"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
	TotalItems int      `json:"totalItems"`
	TotalPages int      `json:"totalPages"`
}

type createRequest struct {
	Slug        string  `json:"slug"`
	CompanyName string  `json:"companyName"`
	Region      *string `json:"region,omitempty"`
	NodeRef     *string `json:"nodeRef,omitempty"`
	PlanRef     *string `json:"planRef,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// TenantsList implements GET /admin/tenants
func (h *Handler) TenantsList(w http.ResponseWriter, r *http.Request) {
	opts, err := buildListOptions(r)
	if err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]Tenant, 0, len(result.Tenants))
	for _, t := range result.Tenants {
		items = append(items, ToAPI(t))
	}

	httpjson.Write(w, http.StatusOK, TenantList{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

// TenantsCreate implements POST /admin/tenants
func (h *Handler) TenantsCreate(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := httpjson.Decode(r, &body, false); err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}

	t, err := h.svc.Create(r.Context(), service.CreateInput{
		Slug:        body.Slug,
		CompanyName: body.CompanyName,
		Region:      body.Region,
		NodeRef:     body.NodeRef,
		PlanRef:     body.PlanRef,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/admin/tenants/%s", t.ID))
	httpjson.Write(w, http.StatusCreated, ToAPI(t))
}

// TenantsGet implements GET /admin/tenants/{tenantId}
func (h *Handler) TenantsGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.PathUUID(r, "tenantId")
	if err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}

	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, ToAPI(t))
}

// TenantsUpdateStatus implements PATCH /admin/tenants/{tenantId}
func (h *Handler) TenantsUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpjson.PathUUID(r, "tenantId")
	if err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}

	var body updateStatusRequest
	if err := httpjson.Decode(r, &body, false); err != nil {
		problems.Write(w, problems.Validation(err.Error(), nil))
		return
	}

	t, err := h.svc.UpdateStatus(r.Context(), id, service.Status(body.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, ToAPI(t))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		problems.Write(w, problems.Validation("invalid tenant request", vErr.Fields))
	case errors.Is(err, service.ErrNotFound):
		problems.Write(w, problems.New(http.StatusNotFound, problems.TypeNotFound, "Not found", err.Error()))
	case errors.Is(err, service.ErrConflictSlug), errors.Is(err, service.ErrInvalidTransition):
		problems.Write(w, problems.New(http.StatusConflict, problems.TypeConflict, "Conflict", err.Error()))
	default:
		logging.FromContextOr(r.Context(), h.logger).Error("tenant operation failed", zap.Error(err))
		problems.Write(w, problems.New(http.StatusInternalServerError, problems.TypeInternal, "Internal error", "internal error"))
	}
}

func buildListOptions(r *http.Request) (service.ListOptions, error) {
	opts := service.ListOptions{Page: 1, PageSize: 20}

	page, err := httpjson.QueryInt(r, "page")
	if err != nil {
		return opts, err
	}
	if page != nil {
		opts.Page = *page
	}
	pageSize, err := httpjson.QueryInt(r, "pageSize")
	if err != nil {
		return opts, err
	}
	if pageSize != nil {
		opts.PageSize = *pageSize
	}
	status, err := httpjson.QueryString(r, "status")
	if err != nil {
		return opts, err
	}
	if status != nil {
		st, err := service.ParseStatus(*status)
		if err != nil {
			return opts, err
		}
		opts.Status = &st
	}
	return opts, nil
}

// ToAPI maps a registry entry to its wire shape.
func ToAPI(t service.Tenant) Tenant {
	return Tenant{
		TenantID:    t.ID,
		Slug:        t.Slug,
		CompanyName: t.CompanyName,
		Status:      string(t.Status),
		DBName:      t.DBName,
		RoleName:    t.RoleName,
		Region:      t.Region,
		NodeRef:     t.NodeRef,
		PlanRef:     t.PlanRef,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
