package schedule

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	ErrNotFound = errors.New("schedule entry not found")
	ErrInvalid  = errors.New("invalid schedule entry")
)

// Entry is one dose on a patient's pill timeline.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	PatientID string    `json:"patient_id"`
	Date      string    `json:"date"`
	Name      string    `json:"name"`
	Time      string    `json:"time"`
	Taken     bool      `json:"taken"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest is the body of POST /schedule.
type CreateRequest struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Time string `json:"time"`
}
