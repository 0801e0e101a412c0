package notifications

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

// Handler serves the inbox endpoints and the websocket upgrade.
type Handler struct {
	svc    *Service
	ws     http.Handler
	logger *logging.Logger
}

func NewHandler(svc *Service, ws http.Handler, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, ws: ws, logger: logger}
}

type createRequest struct {
	PacienteID int64  `json:"paciente_id"`
	MedicoID   *int64 `json:"medico_id"`
	VisitaID   int64  `json:"visita_id"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	admin := middleware.RequireRole(actor.RoleAdmin)
	staff := middleware.RequireRole(actor.RoleDoctor, actor.RoleAdmin)

	r.With(staff).Get("/notificaciones/medico/{doctorId}", h.ListDoctorInbox)
	r.With(admin).Get("/notificaciones/admin/visitas", h.ListAdminInbox)
	r.With(middleware.RequireRole(actor.RolePatient, actor.RoleAdmin)).Post("/notificaciones/create", h.Create)
	r.With(staff).Patch("/notificacion/{id}", h.MarkRead)
	r.With(staff).Delete("/notificaciones/delete/{id}", h.Delete)
	if h.ws != nil {
		r.With(staff).Get("/ws", h.ws.ServeHTTP)
	}
}

// ListDoctorInbox handles GET /notificaciones/medico/{doctorId}
func (h *Handler) ListDoctorInbox(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "doctorId")
	if !ok {
		return
	}
	if a, _ := actor.FromContext(r.Context()); !Doctor(id).Readable(a) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	h.writeInbox(w, r, Doctor(id))
}

// ListAdminInbox handles GET /notificaciones/admin/visitas
func (h *Handler) ListAdminInbox(w http.ResponseWriter, r *http.Request) {
	h.writeInbox(w, r, Admin())
}

// Create handles POST /notificaciones/create
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, "invalid JSON")
		return
	}
	if a, _ := actor.FromContext(r.Context()); a.Role == actor.RolePatient {
		req.PacienteID = a.ID
	}
	if req.MedicoID != nil && *req.MedicoID <= 0 {
		req.MedicoID = nil
	}
	name, err := h.svc.patientName(r.Context(), req.PacienteID)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	evt := VisitRequested{PatientName: name, PatientID: req.PacienteID, DoctorID: req.MedicoID}
	if req.VisitaID > 0 {
		evt.VisitID = &req.VisitaID
	}
	created, err := h.svc.Publish(r.Context(), evt)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, created)
}

// MarkRead handles PATCH /notificacion/{id}
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, _ := actor.FromContext(r.Context())
	n, err := h.svc.MarkRead(r.Context(), a, id)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, n)
}

// Delete handles DELETE /notificaciones/delete/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, _ := actor.FromContext(r.Context())
	if err := h.svc.Delete(r.Context(), a, id); err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeInbox(w http.ResponseWriter, r *http.Request, rcpt Recipient) {
	list, err := h.svc.ListInbox(r.Context(), rcpt)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respond.BadRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}
