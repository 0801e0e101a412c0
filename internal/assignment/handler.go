package assignment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/homecare-visits/internal/actor"
	"github.com/wolfman30/homecare-visits/internal/http/middleware"
	"github.com/wolfman30/homecare-visits/internal/http/respond"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// Handler exposes the coordinator transitions.
type Handler struct {
	coord  *Coordinator
	logger *logging.Logger
}

func NewHandler(coord *Coordinator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{coord: coord, logger: logger}
}

type startRequest struct {
	MedicoID int64 `json:"medico_id"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	staff := middleware.RequireRole(actor.RoleDoctor, actor.RoleAdmin)
	r.With(staff).Post("/visitas/{id}/iniciar", h.Start)
	r.With(staff).Post("/visitas/{id}/finalizar", h.Finish)
}

// Start handles POST /visitas/{id}/iniciar. The body is optional for doctors.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	a, _ := actor.FromContext(r.Context())
	id, ok := visitID(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(w, "invalid JSON")
		return
	}
	v, err := h.coord.StartVisit(r.Context(), a, id, req.MedicoID)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, v)
}

// Finish handles POST /visitas/{id}/finalizar
func (h *Handler) Finish(w http.ResponseWriter, r *http.Request) {
	a, _ := actor.FromContext(r.Context())
	id, ok := visitID(w, r)
	if !ok {
		return
	}
	v, err := h.coord.FinishVisit(r.Context(), a, id)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, v)
}

func visitID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respond.BadRequest(w, "invalid visit id")
		return 0, false
	}
	return id, true
}
