package doctors

import (
	"context"
	"sort"
	"sync"
)

// Directory is the doctor lookup the coordinator and handlers depend on.
type Directory interface {
	Get(ctx context.Context, id int64) (*Doctor, error)
	List(ctx context.Context) ([]*Doctor, error)
	SetAvailability(ctx context.Context, id int64, disponible bool) (*Doctor, error)
	SetOnDuty(ctx context.Context, id int64, estado bool) (*Doctor, error)
}

// InMemoryDirectory keeps doctors in a map.
type InMemoryDirectory struct {
	mu      sync.RWMutex
	doctors map[int64]*Doctor
}

// NewInMemoryDirectory seeds the directory with the given doctors.
func NewInMemoryDirectory(seed ...Doctor) *InMemoryDirectory {
	d := &InMemoryDirectory{doctors: make(map[int64]*Doctor, len(seed))}
	for i := range seed {
		d.doctors[seed[i].ID] = seed[i].Clone()
	}
	return d
}

// Put inserts or replaces a doctor.
func (d *InMemoryDirectory) Put(doc Doctor) {
	d.mu.Lock()
	d.doctors[doc.ID] = doc.Clone()
	d.mu.Unlock()
}

func (d *InMemoryDirectory) Get(ctx context.Context, id int64) (*Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return doc.Clone(), nil
}

func (d *InMemoryDirectory) List(ctx context.Context) ([]*Doctor, error) {
	d.mu.RLock()
	out := make([]*Doctor, 0, len(d.doctors))
	for _, doc := range d.doctors {
		out = append(out, doc.Clone())
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *InMemoryDirectory) SetAvailability(ctx context.Context, id int64, disponible bool) (*Doctor, error) {
	return d.Mutate(ctx, id, func(doc *Doctor) error { return doc.setAvailability(disponible) })
}

func (d *InMemoryDirectory) SetOnDuty(ctx context.Context, id int64, estado bool) (*Doctor, error) {
	return d.Mutate(ctx, id, func(doc *Doctor) error { return doc.setOnDuty(estado) })
}

// Mutate applies fn to a copy of the doctor and stores it only when fn succeeds.
func (d *InMemoryDirectory) Mutate(ctx context.Context, id int64, fn func(*Doctor) error) (*Doctor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	d.doctors[id] = next
	return next.Clone(), nil
}
