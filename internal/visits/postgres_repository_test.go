package visits

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/homecare-visits/internal/apperr"
)

var visitColumns = []string{
	"id", "fecha_visita", "descripcion", "direccion", "telefono", "estado_visita", "estado",
	"paciente_id", "medico_id", "barrio_id", "created_at", "updated_at", "started_at", "completed_at", "cancelled_at",
}

func addVisitRow(rows *pgxmock.Rows, id int64, state State, doctor *int64, now time.Time) *pgxmock.Rows {
	return rows.AddRow(
		id,
		time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		"fiebre",
		"Calle 10",
		"300",
		string(state),
		true,
		int64(3),
		doctor,
		(*int64)(nil),
		now,
		now,
		(*time.Time)(nil),
		(*time.Time)(nil),
		(*time.Time)(nil),
	)
}

func newMockRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo := newPostgresRepositoryWithDB(mock)
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	return repo, mock
}

func TestPostgresRepositoryCreateWritesOutbox(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := repo.now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO visitas").
		WithArgs(pgxmock.AnyArg(), "fiebre", "Calle 10", "300", "requested", true, int64(3),
			pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnRows(addVisitRow(pgxmock.NewRows(visitColumns), 11, StateRequested, nil, now))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "visit:11", "visits.visit.requested.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	created, err := repo.Create(context.Background(), &Visit{
		FechaVisita: NewDate(2026, 3, 10),
		Descripcion: "fiebre",
		Direccion:   "Calle 10",
		Telefono:    "300",
		State:       StateRequested,
		Enabled:     true,
		PacienteID:  3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), created.ID)
	assert.Equal(t, "2026-03-10", created.FechaVisita.String())
	assert.Equal(t, StateRequested, created.State)
	assert.Nil(t, created.MedicoID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM visitas WHERE id = \\$1").WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), 9)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryUpdateLocksRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := repo.now()
	doctor := int64(4)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(11)).
		WillReturnRows(addVisitRow(pgxmock.NewRows(visitColumns), 11, StateRequested, nil, now))
	mock.ExpectQuery("UPDATE visitas").
		WithArgs(int64(11), pgxmock.AnyArg(), "fiebre", "Calle 10", "300", true, pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnRows(addVisitRow(pgxmock.NewRows(visitColumns), 11, StateRequested, &doctor, now))
	mock.ExpectCommit()

	updated, err := repo.Update(context.Background(), 11, func(v *Visit) error {
		v.MedicoID = &doctor
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, updated.MedicoID)
	assert.Equal(t, int64(4), *updated.MedicoID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryUpdateRollsBackOnMutateError(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := repo.now()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(11)).
		WillReturnRows(addVisitRow(pgxmock.NewRows(visitColumns), 11, StateActive, nil, now))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), 11, func(v *Visit) error {
		return apperr.Conflict("cannot reassign the doctor of an active visit")
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryCancel(t *testing.T) {
	t.Run("requested visit", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		now := repo.now()
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE visitas").WithArgs(int64(5), now).
			WillReturnRows(addVisitRow(pgxmock.NewRows(visitColumns), 5, StateCancelled, nil, now))
		mock.ExpectExec("INSERT INTO outbox").
			WithArgs(pgxmock.AnyArg(), "visit:5", "visits.visit.cancelled.v1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		v, err := repo.Cancel(context.Background(), 5, now)
		require.NoError(t, err)
		assert.Equal(t, StateCancelled, v.State)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("active visit", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		now := repo.now()
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE visitas").WithArgs(int64(5), now).WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT estado_visita FROM visitas").WithArgs(int64(5)).
			WillReturnRows(pgxmock.NewRows([]string{"estado_visita"}).AddRow("active"))
		mock.ExpectRollback()

		_, err := repo.Cancel(context.Background(), 5, now)
		assert.ErrorIs(t, err, errStillActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed visit", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		now := repo.now()
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE visitas").WithArgs(int64(5), now).WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT estado_visita FROM visitas").WithArgs(int64(5)).
			WillReturnRows(pgxmock.NewRows([]string{"estado_visita"}).AddRow("completed"))
		mock.ExpectRollback()

		_, err := repo.Cancel(context.Background(), 5, now)
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("unknown visit", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		now := repo.now()
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE visitas").WithArgs(int64(5), now).WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT estado_visita FROM visitas").WithArgs(int64(5)).WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		_, err := repo.Cancel(context.Background(), 5, now)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestPostgresRepositoryListFilters(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := repo.now()
	doctor := int64(2)

	rows := pgxmock.NewRows(visitColumns)
	addVisitRow(rows, 8, StateActive, &doctor, now)
	addVisitRow(rows, 6, StateCompleted, &doctor, now)
	mock.ExpectQuery("FROM visitas WHERE medico_id = \\$1 ORDER BY fecha_visita DESC, id DESC").
		WithArgs(int64(2)).
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), Filter{DoctorID: &doctor})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(8), list[0].ID)

	mock.ExpectQuery("WHERE estado_visita = \\$1 AND estado ORDER BY").
		WithArgs("requested").
		WillReturnRows(pgxmock.NewRows(visitColumns))
	pending, err := repo.List(context.Background(), Filter{State: StateRequested, EnabledOnly: true})
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryUnknownReferencesAreValidationErrors(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := repo.now()
	doctor := int64(404)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO visitas").
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "visitas_paciente_id_fkey"})
	mock.ExpectRollback()

	svc := NewService(repo, nil, WithClock(func() time.Time { return now }, time.UTC))
	_, err := svc.Create(context.Background(), admin, validRequest("2026-03-10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, 400, apperr.HTTPStatus(err))
	assert.Contains(t, apperr.Message(err), "paciente_id")

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(11)).
		WillReturnRows(addVisitRow(pgxmock.NewRows(visitColumns), 11, StateRequested, nil, now))
	mock.ExpectQuery("UPDATE visitas").
		WillReturnError(&pgconn.PgError{Code: "23503", Detail: "Key (medico_id)=(404) is not present in table \"medicos\"."})
	mock.ExpectRollback()

	_, err = repo.Update(context.Background(), 11, func(v *Visit) error {
		v.MedicoID = &doctor
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, apperr.Message(err), "medico_id")
	assert.NoError(t, mock.ExpectationsWereMet())
}
