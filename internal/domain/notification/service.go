package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Pusher delivers a live event to a user's room. The websocket hub
// implements it.
type Pusher interface {
	Publish(ctx context.Context, room, eventType string, payload interface{}) error
}

type nopPusher struct{}

func (nopPusher) Publish(context.Context, string, string, interface{}) error { return nil }

type Service struct {
	repo    Repository
	pusher  Pusher
	logger  zerolog.Logger
	nowFunc func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		pusher:  nopPusher{},
		logger:  logger.With().Str("component", "notifications").Logger(),
		nowFunc: time.Now,
	}
}

func (s *Service) SetPusher(p Pusher) {
	s.pusher = p
}

// Notify stores a notification for userID and pushes it to live sessions.
// A failed push is logged and does not fail the call; the inbox is the
// durable copy.
func (s *Service) Notify(ctx context.Context, userID, kind, message, ref string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalid)
	}
	if kind == "" || message == "" {
		return fmt.Errorf("%w: kind and message are required", ErrInvalid)
	}
	now := s.nowFunc().UTC()
	n := &Notification{
		ID:        NewID(now),
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		Ref:       ref,
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	if err := s.pusher.Publish(ctx, userID, EventType, n); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", n.ID).Msg("live push failed")
	}
	return nil
}

// Owners lists the inbox keys of a user: the user id, plus the lowercased
// email for notifications addressed before the email was linked to the id.
func Owners(userID, email string) []string {
	owners := []string{userID}
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" && email != userID {
		owners = append(owners, email)
	}
	return owners
}

func (s *Service) List(ctx context.Context, owners []string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByOwners(ctx, owners, unreadOnly, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, owners []string, id string) error {
	if _, err := ulid.ParseStrict(id); err != nil {
		return ErrNotFound
	}
	return s.repo.MarkRead(ctx, owners, id, s.nowFunc().UTC())
}

func (s *Service) MarkAllRead(ctx context.Context, owners []string) (int, error) {
	return s.repo.MarkAllRead(ctx, owners, s.nowFunc().UTC())
}

func (s *Service) UnreadCount(ctx context.Context, owners []string) (int, error) {
	return s.repo.CountUnread(ctx, owners)
}
