// Package rxclient is a Go client for the live event stream served at
// /api/v1/ws. It is a nudge channel: handlers should refetch over HTTP when
// they need authoritative state.
package rxclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventPrescriptionReceived = "prescription.received"
	EventNotification         = "notification"
)

// Event is a frame as written by the server.
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Prescription carries the fields of a delivered prescription that clients
// typically render.
type Prescription struct {
	ID           string    `json:"id"`
	IssuerID     string    `json:"issuer_id"`
	PatientRef   string    `json:"patient_ref"`
	Instructions string    `json:"instructions"`
	Medications  []string  `json:"medications"`
	UsageLimit   int       `json:"usage_limit"`
	Used         int       `json:"used"`
	ExpiresAt    time.Time `json:"expires_at"`
	Status       string    `json:"status"`
	Remaining    int       `json:"remaining"`
	Token        string    `json:"token,omitempty"`
}

type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	Ref       string     `json:"ref,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

var ErrClosed = errors.New("rxclient: connection closed")

// Client is one websocket session. Register handlers before calling Run.
type Client struct {
	conn *websocket.Conn

	mu             sync.RWMutex
	onPrescription func(Prescription)
	onNotification func(Notification)
	onUnknown      func(Event)
	onDecodeError  func(Event, error)

	closeOnce sync.Once
}

// Dial opens a session at url (ws:// or wss://) authenticated with the
// bearer token.
func Dial(ctx context.Context, url, bearer string) (*Client, error) {
	header := http.Header{}
	if bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("rxclient: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("rxclient: dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) OnPrescriptionReceived(fn func(Prescription)) {
	c.mu.Lock()
	c.onPrescription = fn
	c.mu.Unlock()
}

func (c *Client) OnNotification(fn func(Notification)) {
	c.mu.Lock()
	c.onNotification = fn
	c.mu.Unlock()
}

// OnUnknown receives events of types this package does not decode.
func (c *Client) OnUnknown(fn func(Event)) {
	c.mu.Lock()
	c.onUnknown = fn
	c.mu.Unlock()
}

func (c *Client) OnDecodeError(fn func(Event, error)) {
	c.mu.Lock()
	c.onDecodeError = fn
	c.mu.Unlock()
}

// Run reads events until ctx is done or the connection drops. Handlers are
// called from Run's goroutine in arrival order. Run returns ErrClosed when
// the session ended normally.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrClosed
			}
			return fmt.Errorf("rxclient: read: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.decodeError(Event{Data: data}, err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev Event) {
	c.mu.RLock()
	onRx, onNote, onUnknown := c.onPrescription, c.onNotification, c.onUnknown
	c.mu.RUnlock()

	switch ev.Type {
	case EventPrescriptionReceived:
		var p Prescription
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			c.decodeError(ev, err)
			return
		}
		if onRx != nil {
			onRx(p)
		}
	case EventNotification:
		var n Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			c.decodeError(ev, err)
			return
		}
		if onNote != nil {
			onNote(n)
		}
	default:
		if onUnknown != nil {
			onUnknown(ev)
		}
	}
}

func (c *Client) decodeError(ev Event, err error) {
	c.mu.RLock()
	fn := c.onDecodeError
	c.mu.RUnlock()
	if fn != nil {
		fn(ev, err)
	}
}

// Close sends a close frame and releases the connection. It is safe to call
// more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
