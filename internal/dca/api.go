package dca

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/auth"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Handler provides the agency administration API.
type Handler struct {
	repo    *Repository
	auditor *audit.Logger
}

// NewHandler creates a DCA handler.
func NewHandler(repo *Repository, auditor *audit.Logger) *Handler {
	return &Handler{repo: repo, auditor: auditor}
}

// Routes registers the DCA admin routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermDCAsRead))
		r.Get("/", h.List)
		r.Get("/{dcaID}", h.Get)
		r.Get("/{dcaID}/assignments", h.ListAssignments)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermDCAsCreate))
		r.Post("/", h.Create)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermDCAsUpdate))
		r.Patch("/{dcaID}/status", h.UpdateStatus)
		r.Patch("/{dcaID}/capacity", h.UpdateCapacity)
		r.Post("/{dcaID}/assignments", h.AssignRegion)
		r.Delete("/{dcaID}/assignments/{regionID}", h.SuspendAssignment)
	})

	return r
}

// List returns all agencies.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	dcas, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": dcas, "total": len(dcas)})
}

// Get returns one agency.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "dcaID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid dca ID"))
		return
	}

	d, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type createDCARequest struct {
	Name          string `json:"name"`
	CapacityLimit int    `json:"capacity_limit"`
	ContactEmail  string `json:"contact_email"`
}

// Create registers a new agency in PENDING_APPROVAL.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDCARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.Name == "" {
		writeError(w, apperrors.BadRequest("name is required"))
		return
	}
	if req.CapacityLimit < 0 {
		writeError(w, apperrors.BadRequest("capacity_limit must be non-negative"))
		return
	}

	d := &DCA{
		Name:          req.Name,
		CapacityLimit: req.CapacityLimit,
		ContactEmail:  req.ContactEmail,
	}
	if err := h.repo.Create(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}

	actor, _ := auth.GetActor(r.Context())
	h.auditor.LogUserAction(r.Context(), actor, audit.ActionDCACreated, "dca", d.ID.String(), map[string]any{
		"name":           d.Name,
		"capacity_limit": d.CapacityLimit,
	})

	writeJSON(w, http.StatusCreated, d)
}

type updateStatusRequest struct {
	Status Status `json:"status"`
}

// UpdateStatus moves an agency between lifecycle states.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "dcaID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid dca ID"))
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	switch req.Status {
	case StatusActive, StatusSuspended, StatusTerminated, StatusPendingApproval:
	default:
		writeError(w, apperrors.BadRequest("unknown status"))
		return
	}

	if err := h.repo.UpdateStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, err)
		return
	}

	actor, _ := auth.GetActor(r.Context())
	action := audit.ActionDCAUpdated
	if req.Status == StatusSuspended {
		action = audit.ActionDCASuspended
	}
	h.auditor.LogUserAction(r.Context(), actor, action, "dca", id.String(), map[string]any{
		"status": req.Status,
	})

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

type updateCapacityRequest struct {
	CapacityLimit int `json:"capacity_limit"`
}

// UpdateCapacity resizes the agency's capacity ceiling.
func (h *Handler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "dcaID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid dca ID"))
		return
	}

	var req updateCapacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.CapacityLimit < 0 {
		writeError(w, apperrors.BadRequest("capacity_limit must be non-negative"))
		return
	}

	if err := h.repo.UpdateCapacityLimit(r.Context(), id, req.CapacityLimit); err != nil {
		writeError(w, err)
		return
	}

	actor, _ := auth.GetActor(r.Context())
	h.auditor.LogUserAction(r.Context(), actor, audit.ActionDCAUpdated, "dca", id.String(), map[string]any{
		"capacity_limit": req.CapacityLimit,
	})

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "capacity_limit": req.CapacityLimit})
}

// ListAssignments returns an agency's region assignments.
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "dcaID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid dca ID"))
		return
	}

	assignments, err := h.repo.AssignmentsByDCA(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": assignments, "total": len(assignments)})
}

type assignRegionRequest struct {
	RegionID           types.ID `json:"region_id"`
	AllocationPriority int      `json:"allocation_priority"`
	SLACompliance      float64  `json:"sla_compliance"`
	RecoveryRate       float64  `json:"recovery_rate"`
}

// AssignRegion links the agency to a region (upsert).
func (h *Handler) AssignRegion(w http.ResponseWriter, r *http.Request) {
	dcaID, err := types.ParseID(chi.URLParam(r, "dcaID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid dca ID"))
		return
	}

	var req assignRegionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.RegionID.IsZero() {
		writeError(w, apperrors.BadRequest("region_id is required"))
		return
	}

	a := &RegionAssignment{
		DCAID:              dcaID,
		RegionID:           req.RegionID,
		IsActive:           true,
		AllocationPriority: req.AllocationPriority,
		SLACompliance:      req.SLACompliance,
		RecoveryRate:       req.RecoveryRate,
	}
	if err := h.repo.AssignRegion(r.Context(), a); err != nil {
		writeError(w, err)
		return
	}

	actor, _ := auth.GetActor(r.Context())
	h.auditor.LogUserAction(r.Context(), actor, audit.ActionDCAUpdated, "dca", dcaID.String(), map[string]any{
		"region_assigned": req.RegionID,
	})

	writeJSON(w, http.StatusCreated, a)
}

// SuspendAssignment suspends a region assignment without deleting it.
func (h *Handler) SuspendAssignment(w http.ResponseWriter, r *http.Request) {
	dcaID, err := types.ParseID(chi.URLParam(r, "dcaID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid dca ID"))
		return
	}
	regionID, err := types.ParseID(chi.URLParam(r, "regionID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid region ID"))
		return
	}

	if err := h.repo.SuspendAssignment(r.Context(), dcaID, regionID); err != nil {
		writeError(w, err)
		return
	}

	actor, _ := auth.GetActor(r.Context())
	h.auditor.LogUserAction(r.Context(), actor, audit.ActionDCAUpdated, "dca", dcaID.String(), map[string]any{
		"region_suspended": regionID,
	})

	writeJSON(w, http.StatusOK, map[string]any{"dca_id": dcaID, "region_id": regionID, "suspended": true})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*apperrors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
