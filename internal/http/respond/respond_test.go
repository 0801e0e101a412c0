package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/homecare-visits/internal/apperr"
)

func TestFailMapsKind(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, nil, apperr.Conflict("doctor already has an active visit"))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "doctor already has an active visit", body.Error)
	assert.Equal(t, "conflict", body.Kind)
}

func TestFailHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, nil, errors.New("pq: relation does not exist"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
