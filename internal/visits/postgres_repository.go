package visits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/homecare-visits/internal/events"
)

// DB abstracts the pgx pool for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SelectColumns lists the visitas columns in the order ScanVisit expects.
const SelectColumns = `id, fecha_visita, descripcion, direccion, telefono, estado_visita, estado,
		paciente_id, medico_id, barrio_id, created_at, updated_at, started_at, completed_at, cancelled_at`

// ScanVisit reads one visitas row selected with SelectColumns.
func ScanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	var state string
	if err := row.Scan(
		&v.ID,
		&v.FechaVisita.Time,
		&v.Descripcion,
		&v.Direccion,
		&v.Telefono,
		&state,
		&v.Enabled,
		&v.PacienteID,
		&v.MedicoID,
		&v.BarrioID,
		&v.CreatedAt,
		&v.UpdatedAt,
		&v.StartedAt,
		&v.CompletedAt,
		&v.CancelledAt,
	); err != nil {
		return nil, err
	}
	v.State = State(state)
	v.FechaVisita = NewDate(v.FechaVisita.Year(), v.FechaVisita.Month(), v.FechaVisita.Day())
	return &v, nil
}

// PostgresRepository stores visits in the visitas table.
type PostgresRepository struct {
	db  DB
	now func() time.Time
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("visits: pgx pool required")
	}
	return newPostgresRepositoryWithDB(pool)
}

func newPostgresRepositoryWithDB(db DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts the visit and its visit.requested outbox event in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, v *Visit) (*Visit, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("visits: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := r.now()
	query := `
		INSERT INTO visitas (fecha_visita, descripcion, direccion, telefono, estado_visita, estado,
			paciente_id, medico_id, barrio_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING ` + SelectColumns
	created, err := ScanVisit(tx.QueryRow(ctx, query,
		v.FechaVisita.Time,
		v.Descripcion,
		v.Direccion,
		v.Telefono,
		string(v.State),
		v.Enabled,
		v.PacienteID,
		v.MedicoID,
		v.BarrioID,
		now,
	))
	if err != nil {
		if invalid := danglingReference(err); invalid != nil {
			return nil, invalid
		}
		return nil, fmt.Errorf("visits: insert failed: %w", err)
	}

	if _, err := events.AppendCanonicalEvent(ctx, tx, events.VisitAggregate(created.ID), "", events.VisitRequestedV1{
		VisitID:     created.ID,
		PacienteID:  created.PacienteID,
		MedicoID:    created.MedicoID,
		FechaVisita: created.FechaVisita.String(),
		RequestedAt: now,
	}, events.WithTimestamp(now)); err != nil {
		return nil, fmt.Errorf("visits: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("visits: commit: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*Visit, error) {
	v, err := ScanVisit(r.db.QueryRow(ctx, `SELECT `+SelectColumns+` FROM visitas WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVisitNotFound
		}
		return nil, fmt.Errorf("visits: select failed: %w", err)
	}
	return v, nil
}

// Update locks the row, applies mutate and writes every editable column back.
func (r *PostgresRepository) Update(ctx context.Context, id int64, mutate func(*Visit) error) (*Visit, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("visits: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := ScanVisit(tx.QueryRow(ctx, `SELECT `+SelectColumns+` FROM visitas WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVisitNotFound
		}
		return nil, fmt.Errorf("visits: lock failed: %w", err)
	}
	if err := mutate(current); err != nil {
		return nil, err
	}

	query := `
		UPDATE visitas
		SET fecha_visita = $2, descripcion = $3, direccion = $4, telefono = $5, estado = $6,
			medico_id = $7, barrio_id = $8, updated_at = $9
		WHERE id = $1
		RETURNING ` + SelectColumns
	updated, err := ScanVisit(tx.QueryRow(ctx, query,
		id,
		current.FechaVisita.Time,
		current.Descripcion,
		current.Direccion,
		current.Telefono,
		current.Enabled,
		current.MedicoID,
		current.BarrioID,
		r.now(),
	))
	if err != nil {
		if invalid := danglingReference(err); invalid != nil {
			return nil, invalid
		}
		return nil, fmt.Errorf("visits: update failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("visits: commit: %w", err)
	}
	return updated, nil
}

// Cancel is a conditional update on estado_visita = 'requested'. When no row
// matches, the current state decides between not found, active and conflict.
func (r *PostgresRepository) Cancel(ctx context.Context, id int64, at time.Time) (*Visit, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("visits: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE visitas
		SET estado_visita = 'cancelled', cancelled_at = $2, updated_at = $2
		WHERE id = $1 AND estado_visita = 'requested'
		RETURNING ` + SelectColumns
	cancelled, err := ScanVisit(tx.QueryRow(ctx, query, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		var state string
		if err := tx.QueryRow(ctx, `SELECT estado_visita FROM visitas WHERE id = $1`, id).Scan(&state); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrVisitNotFound
			}
			return nil, fmt.Errorf("visits: select state failed: %w", err)
		}
		return nil, cancellable(State(state))
	}
	if err != nil {
		return nil, fmt.Errorf("visits: cancel failed: %w", err)
	}

	if _, err := events.AppendCanonicalEvent(ctx, tx, events.VisitAggregate(id), "", events.VisitCancelledV1{
		VisitID:       id,
		MedicoID:      cancelled.MedicoID,
		PacienteID:    cancelled.PacienteID,
		PreviousState: string(StateRequested),
		CancelledAt:   at,
		CancelledBy:   "registry",
	}, events.WithTimestamp(at)); err != nil {
		return nil, fmt.Errorf("visits: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("visits: commit: %w", err)
	}
	return cancelled, nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*Visit, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("paciente_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("medico_id = $%d", *f.DoctorID)
	}
	if f.State != "" {
		add("estado_visita = $%d", string(f.State))
	}
	if f.EnabledOnly {
		conds = append(conds, "estado")
	}

	query := `SELECT ` + SelectColumns + ` FROM visitas`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY fecha_visita DESC, id DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("visits: list failed: %w", err)
	}
	defer rows.Close()

	out := []*Visit{}
	for rows.Next() {
		v, err := ScanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("visits: scan failed: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
