package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/homecare-visits/internal/doctors"
	"github.com/wolfman30/homecare-visits/internal/events"
	"github.com/wolfman30/homecare-visits/internal/visits"
)

const uniqueViolation = "23505"

// DB abstracts the pgx pool for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore runs each transition in one transaction. Rows are locked visit
// first, then doctor, so concurrent transitions cannot deadlock.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("assignment: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Start(ctx context.Context, req Request) (*visits.Visit, error) {
	var out *visits.Visit
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		v, err := lockVisit(ctx, tx, req.VisitID)
		if err != nil {
			return err
		}
		d, err := lockDoctor(ctx, tx, req.DoctorID)
		if err != nil {
			return err
		}
		if err := checkStart(v, d); err != nil {
			return err
		}
		applyStart(v, d, req.At)

		if _, err := tx.Exec(ctx, `
			UPDATE visitas SET estado_visita = $2, medico_id = $3, started_at = $4, updated_at = $4
			WHERE id = $1`, v.ID, string(v.State), d.ID, req.At); err != nil {
			return fmt.Errorf("assignment: start visit: %w", err)
		}
		if err := writeDoctor(ctx, tx, d); err != nil {
			return err
		}
		if _, err := events.AppendCanonicalEvent(ctx, tx, events.VisitAggregate(v.ID), "", events.VisitStartedV1{
			VisitID:    v.ID,
			MedicoID:   d.ID,
			PacienteID: v.PacienteID,
			StartedAt:  req.At,
			StartedBy:  req.By,
		}, events.WithTimestamp(req.At)); err != nil {
			return fmt.Errorf("assignment: %w", err)
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Finish(ctx context.Context, req Request) (*visits.Visit, error) {
	var out *visits.Visit
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		v, err := lockVisit(ctx, tx, req.VisitID)
		if err != nil {
			return err
		}
		doctorID, err := finishDoctor(v, req.DoctorID)
		if err != nil {
			return err
		}
		d, err := lockDoctor(ctx, tx, doctorID)
		if err != nil {
			return err
		}
		if err := checkFinish(v, d); err != nil {
			return err
		}
		applyFinish(v, d, req.At)

		if _, err := tx.Exec(ctx, `
			UPDATE visitas SET estado_visita = $2, completed_at = $3, updated_at = $3
			WHERE id = $1`, v.ID, string(v.State), req.At); err != nil {
			return fmt.Errorf("assignment: finish visit: %w", err)
		}
		if err := writeDoctor(ctx, tx, d); err != nil {
			return err
		}
		if _, err := events.AppendCanonicalEvent(ctx, tx, events.VisitAggregate(v.ID), "", events.VisitCompletedV1{
			VisitID:     v.ID,
			MedicoID:    d.ID,
			PacienteID:  v.PacienteID,
			CompletedAt: req.At,
		}, events.WithTimestamp(req.At)); err != nil {
			return fmt.Errorf("assignment: %w", err)
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) CancelActive(ctx context.Context, req Request) (*visits.Visit, error) {
	var out *visits.Visit
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		v, err := lockVisit(ctx, tx, req.VisitID)
		if err != nil {
			return err
		}
		if err := checkCancel(v); err != nil {
			return err
		}
		var d *doctors.Doctor
		if v.MedicoID != nil {
			if d, err = lockDoctor(ctx, tx, *v.MedicoID); err != nil {
				return err
			}
		}
		previous := v.State
		applyCancel(v, d, req.At)

		if _, err := tx.Exec(ctx, `
			UPDATE visitas SET estado_visita = $2, cancelled_at = $3, updated_at = $3
			WHERE id = $1`, v.ID, string(v.State), req.At); err != nil {
			return fmt.Errorf("assignment: cancel visit: %w", err)
		}
		if d != nil {
			if err := writeDoctor(ctx, tx, d); err != nil {
				return err
			}
		}
		if _, err := events.AppendCanonicalEvent(ctx, tx, events.VisitAggregate(v.ID), "", events.VisitCancelledV1{
			VisitID:       v.ID,
			MedicoID:      v.MedicoID,
			PacienteID:    v.PacienteID,
			PreviousState: string(previous),
			CancelledAt:   req.At,
			CancelledBy:   req.By,
		}, events.WithTimestamp(req.At)); err != nil {
			return fmt.Errorf("assignment: %w", err)
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("assignment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translate(fmt.Errorf("assignment: commit: %w", err))
	}
	return nil
}

func lockVisit(ctx context.Context, tx pgx.Tx, id int64) (*visits.Visit, error) {
	v, err := visits.ScanVisit(tx.QueryRow(ctx, `SELECT `+visits.SelectColumns+` FROM visitas WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, visits.ErrVisitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("assignment: lock visit: %w", err)
	}
	return v, nil
}

func lockDoctor(ctx context.Context, tx pgx.Tx, id int64) (*doctors.Doctor, error) {
	d, err := doctors.ScanDoctor(tx.QueryRow(ctx, `SELECT `+doctors.SelectColumns+` FROM medicos WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, doctors.ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("assignment: lock doctor: %w", err)
	}
	return d, nil
}

func writeDoctor(ctx context.Context, tx pgx.Tx, d *doctors.Doctor) error {
	if _, err := tx.Exec(ctx, `UPDATE medicos SET visita_activa_id = $2, disponible = $3 WHERE id = $1`,
		d.ID, d.VisitaActivaID, d.Disponible); err != nil {
		return fmt.Errorf("assignment: update doctor: %w", err)
	}
	return nil
}

// translate maps the partial unique index on active visits to the busy-doctor conflict.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDoctorBusy
	}
	return err
}
