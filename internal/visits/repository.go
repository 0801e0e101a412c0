package visits

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/homecare-visits/internal/apperr"
)

// Repository defines the interface for visit storage.
type Repository interface {
	Create(ctx context.Context, v *Visit) (*Visit, error)
	Get(ctx context.Context, id int64) (*Visit, error)
	// Update loads the visit, applies mutate and persists the result atomically.
	// If mutate fails nothing is written.
	Update(ctx context.Context, id int64, mutate func(*Visit) error) (*Visit, error)
	// Cancel moves a requested visit to cancelled. Active visits are refused with
	// errStillActive so the caller can route them through the coordinator.
	Cancel(ctx context.Context, id int64, at time.Time) (*Visit, error)
	List(ctx context.Context, f Filter) ([]*Visit, error)
}

// InMemoryRepository keeps visits in a map. Used by tests and USE_MEMORY_STORE.
type InMemoryRepository struct {
	mu     sync.RWMutex
	visits map[int64]*Visit
	nextID int64
	now    func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		visits: make(map[int64]*Visit),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *InMemoryRepository) Create(ctx context.Context, v *Visit) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := v.Clone()
	stored.ID = r.nextID
	now := r.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.visits[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *InMemoryRepository) Get(ctx context.Context, id int64) (*Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.visits[id]
	if !ok {
		return nil, ErrVisitNotFound
	}
	return v.Clone(), nil
}

func (r *InMemoryRepository) Update(ctx context.Context, id int64, mutate func(*Visit) error) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.visits[id]
	if !ok {
		return nil, ErrVisitNotFound
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = id
	next.UpdatedAt = r.now()
	r.visits[id] = next
	return next.Clone(), nil
}

func (r *InMemoryRepository) Cancel(ctx context.Context, id int64, at time.Time) (*Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.visits[id]
	if !ok {
		return nil, ErrVisitNotFound
	}
	if err := cancellable(current.State); err != nil {
		return nil, err
	}
	next := current.Clone()
	next.State = StateCancelled
	next.CancelledAt = &at
	next.UpdatedAt = at
	r.visits[id] = next
	return next.Clone(), nil
}

func (r *InMemoryRepository) List(ctx context.Context, f Filter) ([]*Visit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Visit, 0, len(r.visits))
	for _, v := range r.visits {
		if f.Matches(v) {
			out = append(out, v.Clone())
		}
	}
	SortNewestFirst(out)
	return out, nil
}

// SortNewestFirst orders visits by fecha_visita DESC, id DESC.
func SortNewestFirst(list []*Visit) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].FechaVisita.Equal(list[j].FechaVisita) {
			return list[j].FechaVisita.Before(list[i].FechaVisita)
		}
		return list[i].ID > list[j].ID
	})
}

func cancellable(state State) error {
	switch state {
	case StateRequested:
		return nil
	case StateActive:
		return errStillActive
	default:
		return apperr.Conflict("visit is %s and cannot be cancelled", state)
	}
}
