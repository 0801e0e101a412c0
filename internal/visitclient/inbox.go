package visitclient

import (
	"sync"

	"github.com/wolfman30/homecare-visits/internal/notifications"
)

// Inbox is a local view of one recipient's notifications fed by snapshots and
// live events. Entries are keyed by id so a notification seen on both paths
// appears once. A notification marked read stays read.
type Inbox struct {
	recipient notifications.Recipient

	mu    sync.Mutex
	items map[int64]*notifications.Notification
}

func NewInbox(r notifications.Recipient) *Inbox {
	return &Inbox{recipient: r, items: make(map[int64]*notifications.Notification)}
}

func (i *Inbox) Recipient() notifications.Recipient { return i.recipient }

// Merge folds a ListInbox snapshot into the cache.
func (i *Inbox) Merge(list []*notifications.Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, n := range list {
		i.putLocked(n)
	}
}

// Apply folds a live event. It reports whether the notification was new.
// Events for another recipient are ignored.
func (i *Inbox) Apply(evt notifications.LiveEvent) bool {
	n := evt.Notification
	if n == nil || n.Recipient.Topic() != i.recipient.Topic() {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	_, seen := i.items[n.ID]
	i.putLocked(n)
	return !seen
}

// MarkRead flags id as read locally, for example after a successful MarkRead call.
func (i *Inbox) MarkRead(id int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if n, ok := i.items[id]; ok {
		n.Read = true
	}
}

func (i *Inbox) Remove(id int64) {
	i.mu.Lock()
	delete(i.items, id)
	i.mu.Unlock()
}

// Items returns copies ordered newest first.
func (i *Inbox) Items() []*notifications.Notification {
	i.mu.Lock()
	out := make([]*notifications.Notification, 0, len(i.items))
	for _, n := range i.items {
		cp := *n
		out = append(out, &cp)
	}
	i.mu.Unlock()
	notifications.SortNewestFirst(out)
	return out
}

func (i *Inbox) Unread() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	count := 0
	for _, n := range i.items {
		if !n.Read {
			count++
		}
	}
	return count
}

func (i *Inbox) putLocked(n *notifications.Notification) {
	if n == nil || n.ID <= 0 {
		return
	}
	cp := *n
	if prev, ok := i.items[n.ID]; ok && prev.Read {
		cp.Read = true
	}
	i.items[n.ID] = &cp
}
