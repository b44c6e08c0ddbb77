package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxtrust/rxtrust/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const entryCols = `id, patient_id, to_char(dose_date, 'YYYY-MM-DD'), name, to_char(dose_date + dose_time, 'HH24:MI'), taken, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PatientID, &e.Date, &e.Name, &e.Time, &e.Taken, &e.CreatedAt)
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO pill_schedule (id, patient_id, dose_date, name, dose_time)
		VALUES ($1, $2, $3::date, $4, $5::time)
		RETURNING created_at`,
		e.ID, e.PatientID, e.Date, e.Name, e.Time).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule entry: %w", err)
	}
	return nil
}

func (r *repoPG) ListByDate(ctx context.Context, patientID, date string) ([]*Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+entryCols+` FROM pill_schedule
		WHERE patient_id = $1 AND dose_date = $2::date ORDER BY dose_time, created_at`, patientID, date)
	if err != nil {
		return nil, fmt.Errorf("list schedule: %w", err)
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) Toggle(ctx context.Context, patientID string, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE pill_schedule SET taken = NOT taken
		WHERE id = $1 AND patient_id = $2
		RETURNING `+entryCols, id, patientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toggle schedule entry: %w", err)
	}
	return e, nil
}
