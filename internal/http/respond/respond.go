package respond

import (
	"encoding/json"
	"net/http"

	"github.com/wolfman30/homecare-visits/internal/apperr"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Fail writes a taxonomy-mapped error. Unclassified errors are logged and hidden.
func Fail(w http.ResponseWriter, logger *logging.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "error", err)
	}
	JSON(w, status, ErrorBody{Error: apperr.Message(err), Kind: string(apperr.KindOf(err))})
}

// BadRequest answers 400 with a validation body.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, ErrorBody{Error: message, Kind: string(apperr.KindValidation)})
}
