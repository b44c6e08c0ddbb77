package prescription

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	if room, _ := d.Resolve(ctx, "Pat@Example.com"); room != "pat@example.com" {
		t.Errorf("expected normalized reference, got %q", room)
	}
	_ = d.Learn(ctx, "user-9", " PAT@example.com")
	if room, _ := d.Resolve(ctx, "pat@EXAMPLE.com"); room != "user-9" {
		t.Errorf("expected learned id, got %q", room)
	}
	if room, _ := d.Resolve(ctx, "patient-42"); room != "patient-42" {
		t.Errorf("opaque ids resolve to themselves, got %q", room)
	}
}

func TestRedisDirectory(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	d := NewRedisDirectory(rdb, "")
	ctx := context.Background()

	if room, err := d.Resolve(ctx, "a@b.io"); err != nil || room != "a@b.io" {
		t.Fatalf("expected passthrough, got %q %v", room, err)
	}
	if err := d.Learn(ctx, "user-1", "A@B.io"); err != nil {
		t.Fatalf("learn: %v", err)
	}
	if room, err := d.Resolve(ctx, "a@b.io"); err != nil || room != "user-1" {
		t.Fatalf("expected user-1, got %q %v", room, err)
	}
	if !mr.Exists("rx:dir:a@b.io") {
		t.Error("expected key under default prefix")
	}

	mr.Close()
	room, err := d.Resolve(ctx, "a@b.io")
	if err == nil {
		t.Error("expected error when redis is down")
	}
	if room != "a@b.io" {
		t.Errorf("expected fallback to reference, got %q", room)
	}
}

func TestDelivery_SkipsUnsigned(t *testing.T) {
	p := &mockPusher{}
	d := NewDelivery(p, nil, zerolog.Nop())
	rx := &Prescription{ID: uuid.New(), PatientRef: "x@y.io", UsageLimit: 1, ExpiresAt: time.Now().Add(time.Hour)}

	d.PublishPrescription(context.Background(), NewView(rx, DefaultCodec(), time.Now()))
	if p.count() != 0 {
		t.Fatal("unsigned prescription must not be delivered")
	}

	rx.Signature = testSig
	d.PublishPrescription(context.Background(), NewView(rx, DefaultCodec(), time.Now()))
	if p.count() != 1 || p.pushes[0].room != "x@y.io" {
		t.Fatalf("expected delivery to x@y.io, got %+v", p.pushes)
	}
}
