package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Notification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*Notification)}
}

func ownerSet(owners []string) map[string]bool {
	set := make(map[string]bool, len(owners))
	for _, o := range owners {
		set[o] = true
	}
	return set
}

func (r *MemoryRepository) Create(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.items[n.ID] = &cp
	return nil
}

func (r *MemoryRepository) ListByOwners(_ context.Context, owners []string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	set := ownerSet(owners)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*Notification
	for _, n := range r.items {
		if !set[n.UserID] || (unreadOnly && !n.Unread()) {
			continue
		}
		cp := *n
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *MemoryRepository) MarkRead(_ context.Context, owners []string, id string, at time.Time) error {
	set := ownerSet(owners)
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok || !set[n.UserID] {
		return ErrNotFound
	}
	if n.ReadAt == nil {
		t := at
		n.ReadAt = &t
	}
	return nil
}

func (r *MemoryRepository) MarkAllRead(_ context.Context, owners []string, at time.Time) (int, error) {
	set := ownerSet(owners)
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.items {
		if set[n.UserID] && n.ReadAt == nil {
			t := at
			n.ReadAt = &t
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) CountUnread(_ context.Context, owners []string) (int, error) {
	set := ownerSet(owners)
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, n := range r.items {
		if set[n.UserID] && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}
