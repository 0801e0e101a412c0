package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/homecare-visits/internal/apperr"
)

// PatientDirectory resolves display names for inbox entries.
type PatientDirectory interface {
	Name(ctx context.Context, patientID int64) (string, error)
}

var ErrPatientNotFound = apperr.NotFound("patient not found")

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresPatients reads the pacientes table.
type PostgresPatients struct {
	db rowQuerier
}

func NewPostgresPatients(pool *pgxpool.Pool) *PostgresPatients {
	if pool == nil {
		panic("notifications: pgx pool required")
	}
	return &PostgresPatients{db: pool}
}

func (p *PostgresPatients) Name(ctx context.Context, patientID int64) (string, error) {
	var nombre, apellido string
	err := p.db.QueryRow(ctx, `SELECT nombre, COALESCE(apellido, '') FROM pacientes WHERE id = $1`, patientID).
		Scan(&nombre, &apellido)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrPatientNotFound
	}
	if err != nil {
		return "", fmt.Errorf("notifications: patient name: %w", err)
	}
	return strings.TrimSpace(nombre + " " + apellido), nil
}

// StaticPatients is a fixed id to name table.
type StaticPatients map[int64]string

func (s StaticPatients) Name(ctx context.Context, patientID int64) (string, error) {
	name, ok := s[patientID]
	if !ok {
		return "", ErrPatientNotFound
	}
	return name, nil
}
