package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fedex-dca/control-tower/internal/auth"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Handler exposes the read-only audit API. Writes happen only through the
// Logger facade; there is no HTTP surface for appending entries.
type Handler struct {
	repo   *Repository
	logger *Logger
}

// NewHandler creates an audit handler.
func NewHandler(repo *Repository, logger *Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// Routes registers the audit routes. All of them require audit:read; the
// export route additionally requires audit:export.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermAuditRead))
		r.Get("/", h.ListEntries)
		r.Get("/verify", h.VerifyChain)
		r.Get("/resource/{resourceType}/{resourceID}", h.GetByResource)
		r.Get("/{entryID}", h.GetEntry)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermAuditExport))
		r.Get("/export", h.Export)
	})

	return r
}

// ListEntries lists audit entries with filters.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)

	entries, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": total,
	})
}

// GetEntry returns one audit entry.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid entry ID"))
		return
	}

	entry, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// VerifyChain verifies hash-chain integrity over the most recent entries.
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	result, err := h.repo.VerifyChain(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetByResource returns the audit trail for a single resource.
func (h *Handler) GetByResource(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "resourceType")
	resourceID := chi.URLParam(r, "resourceID")

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.repo.GetByResource(r.Context(), resourceType, resourceID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": len(entries),
	})
}

// Export streams matching entries without pagination caps. Exports are
// themselves audited.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	filter.Limit = 200

	actor, _ := auth.GetActor(r.Context())
	h.logger.LogUserAction(r.Context(), actor, ActionAuditExported, "audit", "", map[string]any{
		"action_filter":   filter.Action,
		"resource_filter": filter.ResourceType,
	})

	entries, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": total,
	})
}

func parseListFilter(r *http.Request) ListFilter {
	filter := ListFilter{}

	q := r.URL.Query()
	if actorID := q.Get("actor_id"); actorID != "" {
		filter.ActorID = actorID
	}
	if actorType := q.Get("actor_type"); actorType != "" {
		at := ActorType(actorType)
		filter.ActorType = &at
	}
	if action := q.Get("action"); action != "" {
		filter.Action = action
	}
	if resourceType := q.Get("resource_type"); resourceType != "" {
		filter.ResourceType = resourceType
	}
	if resourceID := q.Get("resource_id"); resourceID != "" {
		filter.ResourceID = resourceID
	}
	if startTime := q.Get("start_time"); startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			filter.StartTime = &t
		}
	}
	if endTime := q.Get("end_time"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			filter.EndTime = &t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			filter.Limit = l
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			filter.Offset = o
		}
	}

	return filter
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
