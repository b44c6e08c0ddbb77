package rxclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// serveFrames upgrades every request, checks the bearer token and writes
// frames in order.
func serveFrames(t *testing.T, frames ...interface{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if s, ok := f.(string); ok {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(s))
				continue
			}
			_ = conn.WriteJSON(f)
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		// Wait for the client to acknowledge.
		_, _, _ = conn.ReadMessage()
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestClient_DispatchesInOrder(t *testing.T) {
	srv := serveFrames(t,
		Event{Type: EventPrescriptionReceived, Room: "pat-1", Data: raw(t, map[string]interface{}{
			"id": "rx-1", "patient_ref": "pat-1", "usage_limit": 2, "status": "active", "remaining": 2,
		})},
		Event{Type: EventNotification, Room: "pat-1", Data: raw(t, map[string]interface{}{
			"id": "01J0", "kind": "prescription.redeemed", "message": "dispensed",
		})},
		Event{Type: "something.else", Room: "pat-1"},
	)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	var order []string
	c.OnPrescriptionReceived(func(p Prescription) {
		order = append(order, "rx:"+p.ID)
		if p.Remaining != 2 || p.Status != "active" {
			t.Errorf("unexpected prescription %+v", p)
		}
	})
	c.OnNotification(func(n Notification) { order = append(order, "note:"+n.Kind) })
	c.OnUnknown(func(ev Event) { order = append(order, "unknown:"+ev.Type) })

	if err := c.Run(ctx); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	want := []string{"rx:rx-1", "note:prescription.redeemed", "unknown:something.else"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", order, want)
	}
}

func TestClient_DecodeErrorDoesNotStopRun(t *testing.T) {
	srv := serveFrames(t,
		"not json",
		Event{Type: EventNotification, Data: json.RawMessage(`"oops"`)},
		Event{Type: EventNotification, Data: raw(t, map[string]string{"id": "n2"})},
	)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	var decodeErrors int
	var got []string
	c.OnDecodeError(func(Event, error) { decodeErrors++ })
	c.OnNotification(func(n Notification) { got = append(got, n.ID) })

	if err := c.Run(ctx); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if decodeErrors != 2 {
		t.Errorf("expected 2 decode errors, got %d", decodeErrors)
	}
	if len(got) != 1 || got[0] != "n2" {
		t.Errorf("expected n2 to be delivered, got %v", got)
	}
}

func TestDial_Unauthorized(t *testing.T) {
	srv := serveFrames(t)
	defer srv.Close()

	if _, err := Dial(context.Background(), wsURL(srv), "wrong"); err == nil {
		t.Fatal("expected dial to fail without a valid token")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
