package directory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-rbac/meridian/internal/platform/httpx"
	"github.com/meridian-rbac/meridian/internal/shared"
)

// Handler manages directory endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		// The lookup backs an autocomplete widget; give it its own budget.
		r.Use(httprate.Limit(120, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Get("/territories", h.findTerritories)
	})
	r.Post("/entities", h.registerEntity)
	r.Get("/entities/{type}/{id}", h.getEntity)
}

func (h *Handler) findTerritories(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, total, err := h.service.FindScopedTerritories(r.Context(),
		r.URL.Query().Get("role"), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		h.logger.Error("find territories", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if rows == nil {
		rows = []TerritoryRow{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"territories": rows,
		"pagination":  shared.NewPagination(page, limit, total),
	})
}

type entityForm struct {
	Type  string            `json:"entity_type" validate:"required"`
	ID    string            `json:"entity_id" validate:"required"`
	Name  string            `json:"name"`
	Attrs map[string]string `json:"attrs"`
}

func (h *Handler) registerEntity(w http.ResponseWriter, r *http.Request) {
	var form entityForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rec := Record{Type: form.Type, ID: form.ID, Name: form.Name, Attrs: form.Attrs}
	if err := h.service.Register(r.Context(), rec); err != nil {
		if errors.Is(err, ErrValidation) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("register entity", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Resolve(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrValidation):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		default:
			h.logger.Error("get entity", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}
