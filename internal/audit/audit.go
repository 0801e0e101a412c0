// Package audit keeps an append-only trail of visit lifecycle actions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Action is the kind of lifecycle action recorded.
type Action string

const (
	ActionRequested Action = "visit.requested"
	ActionUpdated   Action = "visit.updated"
	ActionStarted   Action = "visit.started"
	ActionCompleted Action = "visit.completed"
	ActionCancelled Action = "visit.cancelled"
)

// Entry is an immutable audit record.
type Entry struct {
	ID            string    `json:"id"`
	VisitID       int64     `json:"visita_id"`
	Action        Action    `json:"action"`
	ActorRole     string    `json:"actor_role"`
	ActorID       int64     `json:"actor_id"`
	ChangedFields []string  `json:"changed_fields,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter specifies criteria for querying entries.
type Filter struct {
	VisitIDs []int64
	Actions  []Action
	Since    time.Time
	Limit    int
}

// Log records and reads audit entries.
type Log interface {
	Record(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

func normalize(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

// SQLLog stores entries in visit_audit_events.
type SQLLog struct {
	db *sql.DB
}

// NewSQLLog creates a new audit log.
func NewSQLLog(db *sql.DB) *SQLLog {
	return &SQLLog{db: db}
}

// Record inserts one entry.
func (s *SQLLog) Record(ctx context.Context, e Entry) error {
	normalize(&e)

	query := `
		INSERT INTO visit_audit_events (
			id, visita_id, action, actor_role, actor_id, changed_fields, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.VisitID,
		string(e.Action),
		e.ActorRole,
		e.ActorID,
		pq.Array(e.ChangedFields),
		nullString(e.Note),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record event: %w", err)
	}
	return nil
}

// Query retrieves entries, oldest first.
func (s *SQLLog) Query(ctx context.Context, f Filter) ([]Entry, error) {
	query := `
		SELECT id, visita_id, action, actor_role, actor_id, changed_fields, note, created_at
		FROM visit_audit_events
		WHERE true
	`
	var args []any
	argIdx := 1

	if len(f.VisitIDs) > 0 {
		query += fmt.Sprintf(" AND visita_id = ANY($%d)", argIdx)
		args = append(args, pq.Array(f.VisitIDs))
		argIdx++
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		query += fmt.Sprintf(" AND action = ANY($%d)", argIdx)
		args = append(args, pq.Array(actions))
		argIdx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, f.Since)
		argIdx++
	}

	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var action string
		var note sql.NullString
		if err := rows.Scan(
			&e.ID, &e.VisitID, &action, &e.ActorRole, &e.ActorID,
			pq.Array(&e.ChangedFields), &note, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.Action = Action(action)
		e.Note = note.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MemoryLog keeps entries in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Record(ctx context.Context, e Entry) error {
	normalize(&e)
	e.ChangedFields = append([]string(nil), e.ChangedFields...)
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLog) Query(ctx context.Context, f Filter) ([]Entry, error) {
	visits := make(map[int64]bool, len(f.VisitIDs))
	for _, id := range f.VisitIDs {
		visits[id] = true
	}
	actions := make(map[Action]bool, len(f.Actions))
	for _, a := range f.Actions {
		actions[a] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Entry{}
	for _, e := range m.entries {
		if len(visits) > 0 && !visits[e.VisitID] {
			continue
		}
		if len(actions) > 0 && !actions[e.Action] {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
