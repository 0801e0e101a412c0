package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const notificationColumns = `id, destinatario, medico_destino_id, tipo, paciente_id, paciente_nombre,
		visita_id, medico_id, mensaje, leida, created_at`

// PostgresStore persists inbox entries in the notificaciones table.
type PostgresStore struct {
	db pgxDB
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("notifications: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithDB(db pgxDB) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var recipient, kind string
	var doctorID *int64
	if err := row.Scan(&n.ID, &recipient, &doctorID, &kind, &n.PacienteID, &n.PacienteNombre,
		&n.VisitaID, &n.MedicoID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Recipient = Recipient{Kind: RecipientKind(recipient)}
	if doctorID != nil {
		n.Recipient.DoctorID = *doctorID
	}
	n.Kind = Kind(kind)
	return &n, nil
}

func recipientDoctor(r Recipient) *int64 {
	if r.Kind != RecipientDoctor {
		return nil
	}
	id := r.DoctorID
	return &id
}

func (s *PostgresStore) Insert(ctx context.Context, n *Notification) (*Notification, error) {
	query := `
		INSERT INTO notificaciones (destinatario, medico_destino_id, tipo, paciente_id, paciente_nombre,
			visita_id, medico_id, mensaje, leida, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		RETURNING ` + notificationColumns
	stored, err := scanNotification(s.db.QueryRow(ctx, query,
		string(n.Recipient.Kind),
		recipientDoctor(n.Recipient),
		string(n.Kind),
		n.PacienteID,
		n.PacienteNombre,
		n.VisitaID,
		n.MedicoID,
		n.Message,
		n.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("notifications: insert: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notificaciones WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notifications: get: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) List(ctx context.Context, r Recipient) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notificaciones
		WHERE destinatario = $1 AND medico_destino_id IS NOT DISTINCT FROM $2
		ORDER BY created_at DESC, id DESC`
	rows, err := s.db.Query(ctx, query, string(r.Kind), recipientDoctor(r))
	if err != nil {
		return nil, fmt.Errorf("notifications: list: %w", err)
	}
	defer rows.Close()

	out := []*Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notifications: scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRead(ctx context.Context, id int64) (*Notification, error) {
	n, err := scanNotification(s.db.QueryRow(ctx,
		`UPDATE notificaciones SET leida = TRUE WHERE id = $1 RETURNING `+notificationColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notifications: mark read: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM notificaciones WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("notifications: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM notificaciones WHERE leida AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("notifications: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
