package prescription

import (
	"testing"
	"time"
)

func TestStatusAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name      string
		used      int
		limit     int
		expiresAt time.Time
		want      Status
	}{
		{"fresh", 0, 3, future, StatusActive},
		{"partly used", 2, 3, future, StatusActive},
		{"exhausted", 3, 3, future, StatusCompleted},
		{"expired with budget", 0, 3, past, StatusExpired},
		{"expired and exhausted", 3, 3, past, StatusExpired},
		{"expires exactly now", 0, 1, now, StatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusAt(tt.used, tt.limit, tt.expiresAt, now); got != tt.want {
				t.Errorf("StatusAt = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatus_TerminalNeverReturns(t *testing.T) {
	expiresAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	start := expiresAt.Add(-48 * time.Hour)

	seenTerminal := false
	for h := 0; h < 96; h++ {
		now := start.Add(time.Duration(h) * time.Hour)
		used := h / 10
		if used > 2 {
			used = 2
		}
		s := StatusAt(used, 2, expiresAt, now)
		if seenTerminal && !s.Terminal() {
			t.Fatalf("status went back to %s at hour %d", s, h)
		}
		if s.Terminal() {
			seenTerminal = true
		}
	}
	if !seenTerminal {
		t.Fatal("expected a terminal state to be reached")
	}
}
