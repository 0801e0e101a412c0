package doctors

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/homecare-visits/internal/actor"
	"github.com/wolfman30/homecare-visits/internal/http/middleware"
	"github.com/wolfman30/homecare-visits/internal/http/respond"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// Handler serves the doctor directory.
type Handler struct {
	dir    Directory
	logger *logging.Logger
}

func NewHandler(dir Directory, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{dir: dir, logger: logger}
}

type availabilityRequest struct {
	Disponible *bool `json:"disponible"`
}

type dutyRequest struct {
	Estado *bool `json:"estado"`
}

// RegisterRoutes mounts /medicos. A doctor may only change their own flags.
func (h *Handler) RegisterRoutes(r chi.Router) {
	staff := middleware.RequireRole(actor.RoleDoctor, actor.RoleAdmin)
	r.Get("/medicos", h.List)
	r.Get("/medicos/{id}", h.Get)
	r.With(staff).Patch("/medicos/{id}/disponibilidad", h.SetAvailability)
	r.With(staff).Patch("/medicos/{id}/estado", h.SetOnDuty)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.dir.List(r.Context())
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := doctorID(w, r)
	if !ok {
		return
	}
	d, err := h.dir.Get(r.Context(), id)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, d)
}

// SetAvailability handles PATCH /medicos/{id}/disponibilidad
func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownDoctor(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Disponible == nil {
		respond.BadRequest(w, "disponible is required")
		return
	}
	d, err := h.dir.SetAvailability(r.Context(), id, *req.Disponible)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	h.logger.Info("doctor availability changed", "doctor_id", id, "disponible", d.Disponible)
	respond.JSON(w, http.StatusOK, d)
}

// SetOnDuty handles PATCH /medicos/{id}/estado
func (h *Handler) SetOnDuty(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownDoctor(w, r)
	if !ok {
		return
	}
	var req dutyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Estado == nil {
		respond.BadRequest(w, "estado is required")
		return
	}
	d, err := h.dir.SetOnDuty(r.Context(), id, *req.Estado)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	h.logger.Info("doctor duty changed", "doctor_id", id, "estado", d.Estado)
	respond.JSON(w, http.StatusOK, d)
}

func (h *Handler) ownDoctor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := doctorID(w, r)
	if !ok {
		return 0, false
	}
	a, _ := actor.FromContext(r.Context())
	if a.Role == actor.RoleDoctor && a.ID != id {
		http.Error(w, "forbidden", http.StatusForbidden)
		return 0, false
	}
	return id, true
}

func doctorID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respond.BadRequest(w, "invalid doctor id")
		return 0, false
	}
	return id, true
}
