package visits

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

// Handler handles HTTP requests for the visit registry.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a new visits handler
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the /visitas routes. Callers must install the actor middleware first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	admin := middleware.RequireRole(actor.RoleAdmin)
	staff := middleware.RequireRole(actor.RoleDoctor, actor.RoleAdmin)
	requesters := middleware.RequireRole(actor.RolePatient, actor.RoleAdmin)

	r.With(admin).Get("/visitas", h.ListAll)
	r.With(staff).Get("/visitas/pendientes", h.ListPending)
	r.With(staff).Get("/visitas/medico/{doctorId}", h.ListByDoctor)
	r.Get("/visitas/paciente/{patientId}", h.ListByPatient)
	r.Get("/visitas/{id}", h.Get)
	r.With(requesters).Post("/visitas", h.Create)
	r.With(admin).Put("/visitas/{id}", h.Update)
	r.With(requesters).Delete("/visitas/{id}", h.Delete)
}

// Create handles POST /visitas
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, "invalid JSON")
		return
	}
	v, err := h.svc.Create(r.Context(), a, req)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, v)
}

// Get handles GET /visitas/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.svc.Get(r.Context(), id)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, v)
}

// Update handles PUT /visitas/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respond.BadRequest(w, "invalid JSON")
		return
	}
	v, err := h.svc.Update(r.Context(), a, id, patch)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, v)
}

// Delete handles DELETE /visitas/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	v, err := h.svc.Delete(r.Context(), a, id)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, v)
}

func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, func() ([]*Visit, error) { return h.svc.ListAll(r.Context()) })
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, func() ([]*Visit, error) { return h.svc.ListPending(r.Context()) })
}

func (h *Handler) ListByDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "doctorId")
	if !ok {
		return
	}
	h.writeList(w, func() ([]*Visit, error) { return h.svc.ListByDoctor(r.Context(), id) })
}

func (h *Handler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "patientId")
	if !ok {
		return
	}
	h.writeList(w, func() ([]*Visit, error) { return h.svc.ListByPatient(r.Context(), id) })
}

func (h *Handler) writeList(w http.ResponseWriter, list func() ([]*Visit, error)) {
	out, err := list()
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	if out == nil {
		out = []*Visit{}
	}
	respond.JSON(w, http.StatusOK, out)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respond.BadRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}
