package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/case/domain"
	"github.com/fedex-dca/control-tower/internal/case/service"
	"github.com/fedex-dca/control-tower/internal/shared/config"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/middleware"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Handler provides the case management API.
type Handler struct {
	pipeline     *service.Pipeline
	transitioner *service.Transitioner
	cases        domain.Repository
	timeline     domain.TimelineRepository
	auditor      *audit.Logger
	rateLimit    config.RateLimitConfig
}

// NewHandler creates a case handler.
func NewHandler(pipeline *service.Pipeline, transitioner *service.Transitioner, cases domain.Repository, timeline domain.TimelineRepository, auditor *audit.Logger, rateLimit config.RateLimitConfig) *Handler {
	return &Handler{
		pipeline:     pipeline,
		transitioner: transitioner,
		cases:        cases,
		timeline:     timeline,
		auditor:      auditor,
		rateLimit:    rateLimit,
	}
}

// Routes registers the case routes. Ingestion is SYSTEM-only and rate
// limited; everything else is permission-gated human access.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSystem)
		r.Use(middleware.RateLimiter(h.rateLimit.IngestPerSecond, h.rateLimit.IngestBurst))
		r.Post("/ingest", h.Ingest)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermCasesRead))
		r.Get("/", h.List)
		r.Get("/{caseID}", h.Get)
		r.Get("/{caseID}/timeline", h.Timeline)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermCasesTransition))
		r.Post("/{caseID}/transition", h.Transition)
	})

	return r
}

// Ingest accepts one upstream case delivery.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.GetActor(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthorized("no actor in request context"))
		return
	}

	var payload service.IngestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), actor, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// List returns the cases inside the caller's visibility scope.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.GetActor(r.Context())
	scope := auth.ScopeFor(actor)

	filter := domain.ListFilter{
		RegionIDs: scope.RegionList(),
		DCAID:     scope.DCAID,
		Status:    domain.Status(r.URL.Query().Get("status")),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	}

	cases, total, err := h.cases.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": cases, "total": total})
}

// Get returns one case. Out-of-scope cases read as absent so existence does
// not leak across agency boundaries. Reads carry customer identity data, so
// each one lands in the access log.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadScoped(w, r)
	if !ok {
		return
	}

	actor, _ := auth.GetActor(r.Context())
	h.auditor.LogUserAction(r.Context(), actor, audit.ActionCaseViewed, "case", c.ID.String(), map[string]any{
		"case_number": c.CaseNumber,
	})

	writeJSON(w, http.StatusOK, c)
}

// Timeline returns a case's immutable history.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadScoped(w, r)
	if !ok {
		return
	}

	entries, err := h.timeline.ListByCase(r.Context(), c.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries, "total": len(entries)})
}

// Transition moves a case along the governed workflow.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.GetActor(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid case ID"))
		return
	}

	var req service.TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	c, err := h.transitioner.Transition(r.Context(), actor, id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// loadScoped loads the case and enforces the caller's visibility scope.
func (h *Handler) loadScoped(w http.ResponseWriter, r *http.Request) (*domain.Case, bool) {
	actor, _ := auth.GetActor(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid case ID"))
		return nil, false
	}

	c, err := h.cases.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}

	if !auth.ScopeFor(actor).CanAccessCase(c.RegionID, c.AssignedDCAID) {
		writeError(w, apperrors.NotFound("case", id.String()))
		return nil, false
	}
	return c, true
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
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
