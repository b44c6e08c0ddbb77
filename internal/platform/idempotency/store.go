// Package idempotency caches responses keyed by a client-supplied
// Idempotency-Key so that a retried write replays its first outcome instead
// of executing again.
package idempotency

import (
	"context"
	"net/http"
	"time"
)

// DefaultTTL is how long a cached response is replayable.
const DefaultTTL = 10 * time.Minute

// Entry is a cached response.
type Entry struct {
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	BodyHash   string      `json:"body_hash"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the completed entry for key. An in-flight reservation is
	// reported as found with a nil entry.
	Get(ctx context.Context, key string) (*Entry, bool, error)
	// Reserve claims key for an in-flight request. It returns false if the
	// key is already reserved or completed.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Set stores the completed entry, replacing any reservation.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	// Delete drops key, releasing a reservation.
	Delete(ctx context.Context, key string) error
}

func cloneEntry(e *Entry) *Entry {
	cp := *e
	if e.Headers != nil {
		cp.Headers = e.Headers.Clone()
	}
	cp.Body = append([]byte(nil), e.Body...)
	return &cp
}
