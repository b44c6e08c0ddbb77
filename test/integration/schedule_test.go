package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/rxtrust/rxtrust/internal/domain/schedule"
)

func TestScheduleRepo_DayViewAndToggle(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	svc := schedule.NewService(schedule.NewRepoPG(globalPool))

	evening, err := svc.Add(ctx, "pat-1", schedule.CreateRequest{Date: "2026-05-01", Name: "Vitamin D", Time: "20:00"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, "pat-1", schedule.CreateRequest{Date: "2026-05-01", Name: "Metformin", Time: "08:30"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Add(ctx, "pat-1", schedule.CreateRequest{Date: "2026-05-02", Name: "Metformin", Time: "08:30"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	day, err := svc.List(ctx, "pat-1", "2026-05-01")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(day) != 2 || day[0].Time != "08:30" || day[1].Date != "2026-05-01" {
		t.Fatalf("unexpected day view %+v", day)
	}

	toggled, err := svc.Toggle(ctx, "pat-1", evening.ID)
	if err != nil || !toggled.Taken {
		t.Fatalf("toggle: %+v %v", toggled, err)
	}
	if _, err := svc.Toggle(ctx, "pat-2", evening.ID); !errors.Is(err, schedule.ErrNotFound) {
		t.Errorf("expected ErrNotFound for another patient, got %v", err)
	}
	if _, err := svc.Toggle(ctx, "pat-1", uuid.New()); !errors.Is(err, schedule.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
