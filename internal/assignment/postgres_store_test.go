package assignment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/homecare-visits/internal/apperr"
	"github.com/wolfman30/homecare-visits/internal/events"
	"github.com/wolfman30/homecare-visits/internal/visits"
)

var (
	visitColumns = []string{
		"id", "fecha_visita", "descripcion", "direccion", "telefono", "estado_visita", "estado",
		"paciente_id", "medico_id", "barrio_id", "created_at", "updated_at", "started_at", "completed_at", "cancelled_at",
	}
	doctorColumns = []string{"id", "nombre", "disponible", "estado", "visita_activa_id"}
	txNow         = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
)

func visitRow(id int64, state visits.State, doctor *int64) *pgxmock.Rows {
	return pgxmock.NewRows(visitColumns).AddRow(
		id, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "fiebre", "Calle 10", "300",
		string(state), true, int64(3), doctor, (*int64)(nil),
		txNow, txNow, (*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil),
	)
}

func doctorRow(id int64, onDuty bool, active *int64) *pgxmock.Rows {
	return pgxmock.NewRows(doctorColumns).AddRow(id, "Dr. Gómez", active == nil, onDuty, active)
}

// envelopeAt matches an outbox payload whose envelope is stamped with the given time.
type envelopeAt time.Time

func (e envelopeAt) Match(v any) bool {
	data, ok := v.([]byte)
	if !ok {
		return false
	}
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	return env.TimestampMicros == time.Time(e).UnixMicro()
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresStoreWithDB(mock), mock
}

func TestPostgresStoreStart(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM visitas WHERE id = \$1 FOR UPDATE`).WithArgs(int64(11)).
		WillReturnRows(visitRow(11, visits.StateRequested, nil))
	mock.ExpectQuery(`FROM medicos WHERE id = \$1 FOR UPDATE`).WithArgs(int64(4)).
		WillReturnRows(doctorRow(4, true, nil))
	mock.ExpectExec(`UPDATE visitas SET estado_visita = \$2, medico_id = \$3, started_at = \$4`).
		WithArgs(int64(11), "active", int64(4), txNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE medicos SET visita_activa_id = \$2, disponible = \$3`).
		WithArgs(int64(4), pgxmock.AnyArg(), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "visit:11", "visits.visit.started.v1", envelopeAt(txNow)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	v, err := store.Start(context.Background(), Request{VisitID: 11, DoctorID: 4, By: "doctor:4", At: txNow})
	require.NoError(t, err)
	assert.Equal(t, visits.StateActive, v.State)
	require.NotNil(t, v.MedicoID)
	assert.Equal(t, int64(4), *v.MedicoID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreStartBusyDoctor(t *testing.T) {
	store, mock := newMockStore(t)
	other := int64(2)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM visitas`).WithArgs(int64(11)).
		WillReturnRows(visitRow(11, visits.StateRequested, nil))
	mock.ExpectQuery(`FROM medicos`).WithArgs(int64(4)).
		WillReturnRows(doctorRow(4, true, &other))
	mock.ExpectRollback()

	_, err := store.Start(context.Background(), Request{VisitID: 11, DoctorID: 4, At: txNow})
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "doctor already has an active visit")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreStartUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM visitas`).WithArgs(int64(11)).
		WillReturnRows(visitRow(11, visits.StateRequested, nil))
	mock.ExpectQuery(`FROM medicos`).WithArgs(int64(4)).
		WillReturnRows(doctorRow(4, true, nil))
	mock.ExpectExec(`UPDATE visitas`).
		WithArgs(int64(11), "active", int64(4), txNow).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "visitas_one_active_per_doctor"})
	mock.ExpectRollback()

	_, err := store.Start(context.Background(), Request{VisitID: 11, DoctorID: 4, At: txNow})
	assert.ErrorIs(t, err, ErrDoctorBusy)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreStartMissingVisit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM visitas`).WithArgs(int64(11)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.Start(context.Background(), Request{VisitID: 11, DoctorID: 4, At: txNow})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreFinish(t *testing.T) {
	store, mock := newMockStore(t)
	doctor, visitID := int64(4), int64(11)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM visitas`).WithArgs(visitID).
		WillReturnRows(visitRow(visitID, visits.StateActive, &doctor))
	mock.ExpectQuery(`FROM medicos`).WithArgs(doctor).
		WillReturnRows(doctorRow(doctor, true, &visitID))
	mock.ExpectExec(`UPDATE visitas SET estado_visita = \$2, completed_at = \$3`).
		WithArgs(visitID, "completed", txNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE medicos`).
		WithArgs(doctor, (*int64)(nil), true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "visit:11", "visits.visit.completed.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	v, err := store.Finish(context.Background(), Request{VisitID: visitID, At: txNow})
	require.NoError(t, err)
	assert.Equal(t, visits.StateCompleted, v.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreFinishRequestedVisit(t *testing.T) {
	store, mock := newMockStore(t)
	doctor := int64(4)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM visitas`).WithArgs(int64(11)).
		WillReturnRows(visitRow(11, visits.StateRequested, &doctor))
	mock.ExpectQuery(`FROM medicos`).WithArgs(doctor).
		WillReturnRows(doctorRow(doctor, true, nil))
	mock.ExpectRollback()

	_, err := store.Finish(context.Background(), Request{VisitID: 11, DoctorID: doctor, At: txNow})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCancelActive(t *testing.T) {
	store, mock := newMockStore(t)
	doctor, visitID := int64(4), int64(11)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM visitas`).WithArgs(visitID).
		WillReturnRows(visitRow(visitID, visits.StateActive, &doctor))
	mock.ExpectQuery(`FROM medicos`).WithArgs(doctor).
		WillReturnRows(doctorRow(doctor, true, &visitID))
	mock.ExpectExec(`UPDATE visitas SET estado_visita = \$2, cancelled_at = \$3`).
		WithArgs(visitID, "cancelled", txNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE medicos`).
		WithArgs(doctor, (*int64)(nil), true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "visit:11", "visits.visit.cancelled.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	v, err := store.CancelActive(context.Background(), Request{VisitID: visitID, By: "admin:1", At: txNow})
	require.NoError(t, err)
	assert.Equal(t, visits.StateCancelled, v.State)
	require.NoError(t, mock.ExpectationsWereMet())
}
