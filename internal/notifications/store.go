package notifications

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists inbox entries.
type Store interface {
	Insert(ctx context.Context, n *Notification) (*Notification, error)
	Get(ctx context.Context, id int64) (*Notification, error)
	// List returns the recipient's inbox, newest first.
	List(ctx context.Context, r Recipient) ([]*Notification, error)
	MarkRead(ctx context.Context, id int64) (*Notification, error)
	Delete(ctx context.Context, id int64) error
	// DeleteReadBefore removes read entries created before the cutoff.
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
}

// MemoryStore keeps notifications in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[int64]*Notification
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[int64]*Notification)}
}

func (m *MemoryStore) Insert(ctx context.Context, n *Notification) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	stored := n.Clone()
	stored.ID = m.nextID
	m.items[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.items[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return n.Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context, r Recipient) ([]*Notification, error) {
	m.mu.RLock()
	out := []*Notification{}
	for _, n := range m.items {
		if n.Recipient == r {
			out = append(out, n.Clone())
		}
	}
	m.mu.RUnlock()
	SortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, id int64) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	n.Read = true
	return n.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotificationNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, n := range m.items {
		if n.Read && n.CreatedAt.Before(before) {
			delete(m.items, id)
			removed++
		}
	}
	return removed, nil
}

// SortNewestFirst orders by created_at DESC, id DESC.
func SortNewestFirst(list []*Notification) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}
