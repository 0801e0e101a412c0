package doctors

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the directory uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SelectColumns is the column list ScanDoctor expects.
const SelectColumns = `id, nombre, disponible, estado, visita_activa_id`

// PostgresDirectory reads and writes the medicos table.
type PostgresDirectory struct {
	db DB
}

// NewPostgresDirectory creates a directory backed by the pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("doctors: pgx pool required")
	}
	return &PostgresDirectory{db: pool}
}

func newPostgresDirectoryWithDB(db DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// ScanDoctor scans one row selected with SelectColumns.
func ScanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.Nombre, &d.Disponible, &d.Estado, &d.VisitaActivaID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresDirectory) Get(ctx context.Context, id int64) (*Doctor, error) {
	d, err := ScanDoctor(p.db.QueryRow(ctx, `SELECT `+SelectColumns+` FROM medicos WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("doctors: get: %w", err)
	}
	return d, nil
}

func (p *PostgresDirectory) List(ctx context.Context) ([]*Doctor, error) {
	rows, err := p.db.Query(ctx, `SELECT `+SelectColumns+` FROM medicos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("doctors: list: %w", err)
	}
	defer rows.Close()

	out := []*Doctor{}
	for rows.Next() {
		d, err := ScanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("doctors: scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresDirectory) SetAvailability(ctx context.Context, id int64, disponible bool) (*Doctor, error) {
	return p.mutate(ctx, id, func(d *Doctor) error { return d.setAvailability(disponible) })
}

func (p *PostgresDirectory) SetOnDuty(ctx context.Context, id int64, estado bool) (*Doctor, error) {
	return p.mutate(ctx, id, func(d *Doctor) error { return d.setOnDuty(estado) })
}

// mutate locks the row so flag edits never race the coordinator's marker writes.
func (p *PostgresDirectory) mutate(ctx context.Context, id int64, fn func(*Doctor) error) (*Doctor, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("doctors: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := ScanDoctor(tx.QueryRow(ctx, `SELECT `+SelectColumns+` FROM medicos WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("doctors: lock: %w", err)
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE medicos SET disponible = $2, estado = $3 WHERE id = $1`, id, d.Disponible, d.Estado); err != nil {
		return nil, fmt.Errorf("doctors: update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("doctors: commit: %w", err)
	}
	return d, nil
}
