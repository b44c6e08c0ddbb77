package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rxtrust/rxtrust/internal/domain/notification"
)

func TestNotificationRepo_InboxAcrossOwners(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := notification.NewService(notification.NewRepoPG(globalPool), zerolog.Nop())

	if err := svc.Notify(ctx, "pat@example.com", "prescription.received", "new prescription", "rx-1"); err != nil {
		t.Fatalf("notify by email: %v", err)
	}
	if err := svc.Notify(ctx, "pat-1", "prescription.redeemed", "dispensed", "rx-1"); err != nil {
		t.Fatalf("notify by id: %v", err)
	}
	if err := svc.Notify(ctx, "someone-else", "prescription.received", "not yours", "rx-2"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	owners := notification.Owners("pat-1", "Pat@Example.com")
	items, total, err := svc.List(ctx, owners, false, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 notifications, got %d", total)
	}
	if items[0].Kind != "prescription.redeemed" {
		t.Errorf("expected newest first, got %s", items[0].Kind)
	}

	if err := svc.MarkRead(ctx, owners, items[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n, _ := svc.UnreadCount(ctx, owners); n != 1 {
		t.Errorf("expected 1 unread, got %d", n)
	}
	if err := svc.MarkRead(ctx, []string{"someone-else"}, items[1].ID); !errors.Is(err, notification.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a foreign inbox, got %v", err)
	}

	marked, err := svc.MarkAllRead(ctx, owners)
	if err != nil || marked != 1 {
		t.Errorf("expected 1 marked, got %d (%v)", marked, err)
	}
	unread, _, _ := svc.List(ctx, owners, true, 10, 0)
	if len(unread) != 0 {
		t.Errorf("expected empty unread list, got %d", len(unread))
	}
}
