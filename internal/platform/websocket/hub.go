// Package websocket pushes live events to authenticated sessions. Every
// session joins exactly one room, its user id. Delivery is best effort: an
// event for a room with no session on any instance is dropped.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rxtrust/rxtrust/internal/platform/metrics"
)

// Event is the frame written to clients.
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Bridge fans events out to every instance. Without one the hub delivers
// in process only.
type Bridge interface {
	Publish(ctx context.Context, ev Event) error
}

// Client is one websocket session. Send is its FIFO queue.
type Client struct {
	ID   string
	Room string
	Send chan []byte
}

// Hub tracks sessions by room. All operations are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	bridge Bridge
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger.With().Str("component", "ws_hub").Logger(),
	}
}

// SetBridge routes Publish through b. The bridge must call Deliver on every
// instance, including this one.
func (h *Hub) SetBridge(b Bridge) {
	h.mu.Lock()
	h.bridge = b
	h.mu.Unlock()
}

// Register adds client to its room.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[client.Room] == nil {
		h.rooms[client.Room] = make(map[*Client]struct{})
	}
	h.rooms[client.Room][client] = struct{}{}
	metrics.Sessions.Inc()
}

// Unregister removes client and closes its Send channel. Calling it twice is
// harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[client.Room]
	if !ok {
		return
	}
	if _, ok := members[client]; !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, client.Room)
	}
	close(client.Send)
	metrics.Sessions.Dec()
}

// Publish sends an event of the given type to room. An empty room or a room
// without sessions is a no-op.
func (h *Hub) Publish(ctx context.Context, room, eventType string, payload interface{}) error {
	if room == "" {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	ev := Event{Type: eventType, Room: room, Timestamp: time.Now().UTC(), Data: data}

	h.mu.RLock()
	bridge := h.bridge
	h.mu.RUnlock()
	if bridge != nil {
		if err := bridge.Publish(ctx, ev); err != nil {
			metrics.Deliveries.WithLabelValues(eventType, "error").Inc()
			return err
		}
		return nil
	}
	h.Deliver(ev)
	return nil
}

// Deliver writes ev to the local sessions of ev.Room and returns how many
// accepted it. Sessions whose queue is full are skipped.
func (h *Hub) Deliver(ev Event) int {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Type).Msg("marshal frame")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[ev.Room]
	if len(members) == 0 {
		metrics.Deliveries.WithLabelValues(ev.Type, "no_session").Inc()
		return 0
	}
	sent := 0
	for client := range members {
		select {
		case client.Send <- frame:
			sent++
		default:
			metrics.Deliveries.WithLabelValues(ev.Type, "dropped").Inc()
			h.logger.Warn().Str("event", ev.Type).Str("client_id", client.ID).Msg("send queue full, frame dropped")
		}
	}
	if sent > 0 {
		metrics.Deliveries.WithLabelValues(ev.Type, "delivered").Add(float64(sent))
	}
	return sent
}

// ClientCount returns the number of sessions on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, members := range h.rooms {
		n += len(members)
	}
	return n
}

// RoomCount returns the number of local sessions in room.
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
