package doctors

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/homecare-visits/internal/apperr"
)

var doctorColumns = []string{"id", "nombre", "disponible", "estado", "visita_activa_id"}

func TestPostgresDirectoryGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	dir := newPostgresDirectoryWithDB(mock)

	visit := int64(7)
	mock.ExpectQuery(`SELECT id, nombre, disponible, estado, visita_activa_id FROM medicos WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(doctorColumns).AddRow(int64(1), "Dr. Gómez", false, true, &visit))
	mock.ExpectQuery(`FROM medicos WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnError(pgx.ErrNoRows)

	d, err := dir.Get(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, d.VisitaActivaID)
	assert.Equal(t, int64(7), *d.VisitaActivaID)
	assert.True(t, d.Busy())

	_, err = dir.Get(context.Background(), 2)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectoryList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	dir := newPostgresDirectoryWithDB(mock)

	var none *int64
	mock.ExpectQuery(`FROM medicos ORDER BY id`).
		WillReturnRows(pgxmock.NewRows(doctorColumns).
			AddRow(int64(1), "Dr. Gómez", true, true, none).
			AddRow(int64(2), "Dra. Ruiz", false, false, none))

	list, err := dir.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Dra. Ruiz", list[1].Nombre)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectorySetAvailability(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	dir := newPostgresDirectoryWithDB(mock)

	var none *int64
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM medicos WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(doctorColumns).AddRow(int64(1), "Dr. Gómez", false, true, none))
	mock.ExpectExec(`UPDATE medicos SET disponible = \$2, estado = \$3 WHERE id = \$1`).
		WithArgs(int64(1), true, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	d, err := dir.SetAvailability(context.Background(), 1, true)
	require.NoError(t, err)
	assert.True(t, d.Disponible)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectoryRefusesBusyDoctor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	dir := newPostgresDirectoryWithDB(mock)

	visit := int64(3)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(doctorColumns).AddRow(int64(1), "Dr. Gómez", false, true, &visit))
	mock.ExpectRollback()

	_, err = dir.SetOnDuty(context.Background(), 1, false)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}
