package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rxtrust/rxtrust/internal/platform/metrics"
)

// EventPrescriptionReceived is pushed to a patient's room when a signed
// prescription becomes available to them.
const EventPrescriptionReceived = "prescription.received"

// Pusher delivers a live event to a room. The websocket hub implements it.
type Pusher interface {
	Publish(ctx context.Context, room, eventType string, payload interface{}) error
}

// Notifier records an inbox entry for a user and pushes it live.
type Notifier interface {
	Notify(ctx context.Context, userID, kind, message, ref string) error
}

// Directory maps a patient reference (usually an email) to the user id whose
// room receives deliveries. Unknown references resolve to themselves.
type Directory interface {
	Resolve(ctx context.Context, patientRef string) (string, error)
	Learn(ctx context.Context, userID, email string) error
}

type nopPusher struct{}

func (nopPusher) Publish(context.Context, string, string, interface{}) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, string, string) error { return nil }

// normalizeRef lowercases email references; opaque ids are left as they are.
func normalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, "@") {
		return strings.ToLower(ref)
	}
	return ref
}

// MemoryDirectory keeps the email to user id map in process.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byEmail map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byEmail: make(map[string]string)}
}

func (d *MemoryDirectory) Resolve(_ context.Context, ref string) (string, error) {
	ref = normalizeRef(ref)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if uid, ok := d.byEmail[ref]; ok {
		return uid, nil
	}
	return ref, nil
}

func (d *MemoryDirectory) Learn(_ context.Context, userID, email string) error {
	email = normalizeRef(email)
	if userID == "" || email == "" {
		return nil
	}
	d.mu.Lock()
	d.byEmail[email] = userID
	d.mu.Unlock()
	return nil
}

// RedisDirectory shares the map between instances.
type RedisDirectory struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisDirectory(rdb *redis.Client, prefix string) *RedisDirectory {
	if prefix == "" {
		prefix = "rx:dir:"
	}
	return &RedisDirectory{rdb: rdb, prefix: prefix}
}

func (d *RedisDirectory) Resolve(ctx context.Context, ref string) (string, error) {
	ref = normalizeRef(ref)
	uid, err := d.rdb.Get(ctx, d.prefix+ref).Result()
	if errors.Is(err, redis.Nil) {
		return ref, nil
	}
	if err != nil {
		return ref, fmt.Errorf("resolve patient: %w", err)
	}
	return uid, nil
}

func (d *RedisDirectory) Learn(ctx context.Context, userID, email string) error {
	email = normalizeRef(email)
	if userID == "" || email == "" {
		return nil
	}
	if err := d.rdb.Set(ctx, d.prefix+email, userID, 0).Err(); err != nil {
		return fmt.Errorf("link patient: %w", err)
	}
	return nil
}

// Delivery pushes signed prescriptions to their patient. Delivery is best
// effort: failures are logged and counted, never returned.
type Delivery struct {
	pusher Pusher
	dir    Directory
	logger zerolog.Logger
}

func NewDelivery(pusher Pusher, dir Directory, logger zerolog.Logger) *Delivery {
	if pusher == nil {
		pusher = nopPusher{}
	}
	if dir == nil {
		dir = NewMemoryDirectory()
	}
	return &Delivery{pusher: pusher, dir: dir, logger: logger}
}

// Room resolves the room for patientRef. On lookup failure the reference
// itself is used.
func (d *Delivery) Room(ctx context.Context, patientRef string) string {
	room, err := d.dir.Resolve(ctx, patientRef)
	if err != nil {
		d.logger.Warn().Err(err).Msg("patient directory lookup failed")
	}
	return room
}

// PublishPrescription sends v to the patient's room. Unsigned records are
// never delivered.
func (d *Delivery) PublishPrescription(ctx context.Context, v *View) {
	if !v.Signed {
		return
	}
	room := d.Room(ctx, v.PatientRef)
	if err := d.pusher.Publish(ctx, room, EventPrescriptionReceived, v); err != nil {
		d.logger.Warn().Err(err).Str("prescription_id", v.ID.String()).Msg("prescription delivery failed")
		return
	}
	metrics.Deliveries.WithLabelValues(EventPrescriptionReceived, "published").Inc()
}
