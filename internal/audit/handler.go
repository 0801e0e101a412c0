package audit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/homecare-visits/internal/http/respond"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// Handler serves the audit trail of a visit.
type Handler struct {
	log    Log
	logger *logging.Logger
}

func NewHandler(log Log, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{log: log, logger: logger}
}

// RegisterRoutes mounts GET /visitas/{id}/historial.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/visitas/{id}/historial", h.History)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respond.BadRequest(w, "invalid visit id")
		return
	}
	entries, err := h.log.Query(r.Context(), Filter{VisitIDs: []int64{id}})
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, entries)
}
