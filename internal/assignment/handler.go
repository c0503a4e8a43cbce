package assignment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-rbac/meridian/internal/observability"
	"github.com/meridian-rbac/meridian/internal/platform/httpx"
	"github.com/meridian-rbac/meridian/internal/policy"
	"github.com/meridian-rbac/meridian/internal/shared"
)

// Handler manages assignment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, metrics: metrics, validate: validator.New()}
}

// MountRoutes registers assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/records", h.records)
	r.Get("/{id}/audit", h.audit)
	r.Post("/{id}/activate", h.activate)
	r.Post("/{id}/retract", h.retract)
}

type detailRowForm struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
}

type createForm struct {
	User       string          `json:"user" validate:"required"`
	Role       string          `json:"role" validate:"required"`
	Territory  string          `json:"territory"`
	Company    string          `json:"company"`
	DetailRows []detailRowForm `json:"detail_rows" validate:"dive"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form createForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInput{User: form.User, Role: form.Role, Territory: form.Territory, Company: form.Company}
	for _, row := range form.DetailRows {
		input.DetailRows = append(input.DetailRows, policy.ScopeRef{EntityType: row.EntityType, EntityID: row.EntityID})
	}
	created, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, "create assignment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := ListFilters{
		User:   r.URL.Query().Get("user"),
		Role:   r.URL.Query().Get("role"),
		Status: r.URL.Query().Get("status"),
	}
	items, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, "list assignments", err)
		return
	}
	if items == nil {
		items = []Assignment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	a, rows, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get assignment", err)
		return
	}
	if rows == nil {
		rows = []policy.ScopeRef{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignment": a, "detail_rows": rows})
}

func (h *Handler) records(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	records, err := h.service.Records(r.Context(), id)
	if err != nil {
		h.respondError(w, "list assignment records", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	logs, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondError(w, "assignment audit trail", err)
		return
	}
	if logs == nil {
		logs = []shared.AuditLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"audit": logs})
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.Activate(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.observeTransition("activate", "rejected")
		h.respondError(w, "activate assignment", err)
		return
	}
	h.observeTransition("activate", "ok")
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusActive)})
}

func (h *Handler) retract(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.Retract(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.observeTransition("retract", "rejected")
		h.respondError(w, "retract assignment", err)
		return
	}
	h.observeTransition("retract", "ok")
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusRetracted)})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case policy.IsViolation(err):
		if h.metrics != nil {
			h.metrics.ObserveViolation(err)
		}
		httpx.Problem(w, http.StatusConflict, "Policy Violation", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) observeTransition(action, outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveTransition("assignment", action, outcome)
	}
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
