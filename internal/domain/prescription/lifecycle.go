package prescription

import "time"

// Status is derived from the counters and the clock. It is never stored.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// StatusAt is the single lifecycle function. Expiry takes precedence over
// completion, and a record is expired from the instant now reaches expiresAt.
func StatusAt(used, limit int, expiresAt, now time.Time) Status {
	if !now.Before(expiresAt) {
		return StatusExpired
	}
	if used >= limit {
		return StatusCompleted
	}
	return StatusActive
}

// Terminal reports whether s can never return to active.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}
