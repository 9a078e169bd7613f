package user

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedex-dca/control-tower/internal/auth"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Handler provides the account administration API.
type Handler struct {
	repo    *Repository
	service *Service
}

// NewHandler creates a user handler.
func NewHandler(repo *Repository, service *Service) *Handler {
	return &Handler{repo: repo, service: service}
}

// Routes registers the user routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermUsersRead))
		r.Get("/", h.List)
		r.Get("/{userID}", h.Get)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermUsersCreate))
		r.Post("/", h.Provision)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(auth.PermUsersUpdate))
		r.Post("/{userID}/deactivate", h.Deactivate)
		r.Patch("/{userID}/delegation", h.SetDelegation)
	})

	return r
}

// List returns accounts. Agency-side callers see only their own agency.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.GetActor(r.Context())

	var dcaFilter types.ID
	if auth.IsDCARole(actor.Role) {
		dcaFilter = actor.DCAID
	}

	users, err := h.repo.List(r.Context(), dcaFilter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": users, "total": len(users)})
}

// Get returns one account.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.GetActor(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid user ID"))
		return
	}

	u, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if auth.IsDCARole(actor.Role) && u.DCAID != actor.DCAID {
		writeError(w, apperrors.NotFound("user", id.String()))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Provision creates an account through the governed provisioning path.
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.GetActor(r.Context())

	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	u, err := h.service.Provision(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Deactivate disables an account.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.GetActor(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid user ID"))
		return
	}

	if err := h.service.Deactivate(r.Context(), actor, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": false})
}

type delegationRequest struct {
	CanCreateAgents bool `json:"can_create_agents"`
}

// SetDelegation flips a DCA manager's agent-creation privilege.
func (h *Handler) SetDelegation(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.GetActor(r.Context())

	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid user ID"))
		return
	}

	var req delegationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	if err := h.service.SetAgentDelegation(r.Context(), actor, id, req.CanCreateAgents); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "can_create_agents": req.CanCreateAgents})
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
