package notification

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	// ListByOwners returns the notifications addressed to any of owners,
	// newest first.
	ListByOwners(ctx context.Context, owners []string, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	// MarkRead returns ErrNotFound when id is not addressed to one of owners.
	MarkRead(ctx context.Context, owners []string, id string, at time.Time) error
	MarkAllRead(ctx context.Context, owners []string, at time.Time) (int, error)
	CountUnread(ctx context.Context, owners []string) (int, error)
}
