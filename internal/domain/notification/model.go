package notification

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	KindPrescriptionReceived = "prescription.received"
	KindPrescriptionRedeemed = "prescription.redeemed"

	// EventType is the websocket event carrying a Notification.
	EventType = "notification"
)

var (
	ErrNotFound = errors.New("notification not found")
	ErrInvalid  = errors.New("invalid notification")
)

// Notification is one inbox entry. IDs are ULIDs so they sort by creation
// time. ReadAt is nil while unread.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	Ref       string     `json:"ref,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

func (n *Notification) Unread() bool { return n.ReadAt == nil }

var entropy = &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(rand.Reader, 0)}

// NewID returns a ULID for t.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
