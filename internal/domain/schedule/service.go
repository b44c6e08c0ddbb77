package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo    Repository
	nowFunc func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, nowFunc: time.Now}
}

// Today is the default date for listings.
func (s *Service) Today() string {
	return s.nowFunc().Format(DateLayout)
}

func (s *Service) Add(ctx context.Context, patientID string, req CreateRequest) (*Entry, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if _, err := time.Parse(DateLayout, req.Date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalid)
	}
	if _, err := time.Parse(TimeLayout, req.Time); err != nil {
		return nil, fmt.Errorf("%w: time must be HH:MM", ErrInvalid)
	}
	e := &Entry{PatientID: patientID, Date: req.Date, Name: name, Time: req.Time}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, patientID, date string) ([]*Entry, error) {
	if date == "" {
		date = s.Today()
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalid)
	}
	return s.repo.ListByDate(ctx, patientID, date)
}

func (s *Service) Toggle(ctx context.Context, patientID string, id uuid.UUID) (*Entry, error) {
	return s.repo.Toggle(ctx, patientID, id)
}
