package visits

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/homecare-visits/internal/apperr"
)

var (
	// ErrVisitNotFound is returned when a visit id is unknown.
	ErrVisitNotFound = apperr.NotFound("visit not found")

	// errStillActive tells Delete that the visit must be cancelled through the coordinator.
	errStillActive = errors.New("visits: visit is active")
)

const foreignKeyViolation = "23503"

var referenceColumns = []string{"paciente_id", "medico_id", "barrio_id"}

// danglingReference turns a foreign key violation on visitas into a validation
// error naming the column. It returns nil for any other error.
func danglingReference(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != foreignKeyViolation {
		return nil
	}
	column := "reference"
	for _, c := range referenceColumns {
		if strings.Contains(pgErr.ConstraintName, c) || strings.Contains(pgErr.Detail, "("+c+")") {
			column = c
			break
		}
	}
	return apperr.Validation("%s does not reference an existing record", column)
}
