package policy

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-rbac/meridian/internal/platform/httpx"
)

// Handler serves read access to role policies.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
}

// NewHandler constructs the policy handler.
func NewHandler(logger *slog.Logger, registry *Registry) *Handler {
	return &Handler{logger: logger, registry: registry}
}

// MountRoutes registers policy routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{role}", h.getPolicy)
	r.Post("/{role}/invalidate", h.invalidate)
}

type policyResponse struct {
	Role           string              `json:"role"`
	Overlappable   bool                `json:"overlappable"`
	NumberOfActors int                 `json:"number_of_actors"`
	TerritoryType  string              `json:"territory_type,omitempty"`
	ScopeRows      []ScopeRef          `json:"scope_rows,omitempty"`
	AllowedValues  map[string][]string `json:"allowed_values,omitempty"`
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	pol, found, err := h.registry.Get(r.Context(), role)
	if err != nil {
		h.logger.Error("get policy", slog.String("role", role), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if !found {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no policy for role")
		return
	}
	httpx.JSON(w, http.StatusOK, policyResponse{
		Role:           pol.Role,
		Overlappable:   pol.Overlappable,
		NumberOfActors: pol.NumberOfActors,
		TerritoryType:  pol.TerritoryType,
		ScopeRows:      pol.ScopeRows,
		AllowedValues:  pol.AllowedValues(),
	})
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if err := h.registry.Invalidate(r.Context(), role); err != nil {
		h.logger.Error("invalidate policy cache", slog.String("role", role), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}
