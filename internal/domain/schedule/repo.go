package schedule

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	// ListByDate returns the patient's entries for date ordered by time.
	ListByDate(ctx context.Context, patientID, date string) ([]*Entry, error)
	// Toggle flips taken on an entry owned by patientID.
	Toggle(ctx context.Context, patientID string, id uuid.UUID) (*Entry, error)
}
