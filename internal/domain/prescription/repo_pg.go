package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxtrust/rxtrust/internal/platform/db"
)

type repoPG struct {
	pool      *pgxpool.Pool
	suffixLen int
}

// NewRepoPG returns the Postgres store. suffixLen must match the codec so
// FindBySuffix can use the expression index on right(id::text, n).
func NewRepoPG(pool *pgxpool.Pool, suffixLen int) Repository {
	return &repoPG{pool: pool, suffixLen: suffixLen}
}

const rxCols = `id, issuer_id, patient_ref, instructions, medications,
	age, weight, height, usage_limit, used, expires_at,
	signature, signature_mime, signed_at, created_at, updated_at`

// storeErr maps driver errors onto the domain sentinels.
func storeErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func scanRx(row pgx.Row) (*Prescription, error) {
	var (
		p    Prescription
		sig  []byte
		mime *string
	)
	err := row.Scan(&p.ID, &p.IssuerID, &p.PatientRef, &p.Instructions, &p.Medications,
		&p.Demographics.Age, &p.Demographics.Weight, &p.Demographics.Height,
		&p.UsageLimit, &p.Used, &p.ExpiresAt,
		&sig, &mime, &p.SignedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(sig) > 0 {
		p.Signature = Signature{Data: sig}
		if mime != nil {
			p.Signature.MIME = *mime
		}
	}
	return &p, nil
}

func collectRx(rows pgx.Rows) ([]*Prescription, error) {
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanRx(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func nullableSig(s Signature) ([]byte, *string) {
	if s.Empty() {
		return nil, nil
	}
	mime := s.MIME
	return s.Data, &mime
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	sig, mime := nullableSig(p.Signature)
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescriptions (id, issuer_id, patient_ref, instructions, medications,
			age, weight, height, usage_limit, used, expires_at,
			signature, signature_mime, signed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.IssuerID, p.PatientRef, p.Instructions, p.Medications,
		p.Demographics.Age, p.Demographics.Weight, p.Demographics.Height,
		p.UsageLimit, p.ExpiresAt, sig, mime, p.SignedAt)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return storeErr("create prescription", err)
	}
	p.Used = 0
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanRx(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE id = $1`, id))
	if err != nil {
		return nil, storeErr("get prescription", err)
	}
	return p, nil
}

func (r *repoPG) FindBySuffix(ctx context.Context, suffix string, limit int) ([]*Prescription, error) {
	q := fmt.Sprintf(`SELECT `+rxCols+` FROM prescriptions WHERE right(id::text, %d) = $1 LIMIT $2`, r.suffixLen)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, suffix, limit)
	if err != nil {
		return nil, storeErr("find prescription by suffix", err)
	}
	items, err := collectRx(rows)
	if err != nil {
		return nil, storeErr("find prescription by suffix", err)
	}
	return items, nil
}

func (r *repoPG) AttachSignature(ctx context.Context, id uuid.UUID, s Signature, at time.Time) (*Prescription, error) {
	sig, mime := nullableSig(s)
	p, err := scanRx(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE prescriptions SET signature=$2, signature_mime=$3, signed_at=$4, updated_at=$4
		WHERE id = $1 AND signature IS NULL
		RETURNING `+rxCols, id, sig, mime, at))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storeErr("sign prescription", err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrAlreadySigned
}

func (r *repoPG) Redeem(ctx context.Context, id uuid.UUID, redeemedBy string, now time.Time) (*Prescription, error) {
	var out *Prescription
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		p, err := scanRx(conn.QueryRow(ctx, `
			UPDATE prescriptions SET used = used + 1, updated_at = $2
			WHERE id = $1 AND used < usage_limit AND expires_at > $2 AND signature IS NOT NULL
			RETURNING `+rxCols, id, now))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRedeemConflict
		}
		if err != nil {
			return storeErr("redeem prescription", err)
		}
		if _, err := conn.Exec(ctx, `
			INSERT INTO prescription_redemptions (id, prescription_id, redeemed_by, redeemed_at, used_after)
			VALUES ($1,$2,$3,$4,$5)`,
			uuid.New(), id, redeemedBy, now, p.Used); err != nil {
			return storeErr("record redemption", err)
		}
		out = p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRedeemConflict) || errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, storeErr("redeem prescription", err)
	}
	return out, nil
}

func (r *repoPG) list(ctx context.Context, op, where string, arg interface{}, limit, offset int) ([]*Prescription, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, storeErr(op, err)
	}
	rows, err := conn.Query(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE `+where+`
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, arg, limit, offset)
	if err != nil {
		return nil, 0, storeErr(op, err)
	}
	items, err := collectRx(rows)
	if err != nil {
		return nil, 0, storeErr(op, err)
	}
	return items, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, refs []string, limit, offset int) ([]*Prescription, int, error) {
	norm := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref = normalizeRef(ref); ref != "" {
			norm = append(norm, ref)
		}
	}
	return r.list(ctx, "list patient prescriptions", `(patient_ref = ANY($1) OR lower(patient_ref) = ANY($1))`, norm, limit, offset)
}

func (r *repoPG) ListByIssuer(ctx context.Context, issuerID string, limit, offset int) ([]*Prescription, int, error) {
	return r.list(ctx, "list issued prescriptions", `issuer_id = $1`, issuerID, limit, offset)
}

func (r *repoPG) ListRedemptions(ctx context.Context, id uuid.UUID) ([]*Redemption, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, prescription_id, redeemed_by, redeemed_at, used_after
		FROM prescription_redemptions WHERE prescription_id = $1 ORDER BY redeemed_at`, id)
	if err != nil {
		return nil, storeErr("list redemptions", err)
	}
	defer rows.Close()
	var items []*Redemption
	for rows.Next() {
		var rd Redemption
		if err := rows.Scan(&rd.ID, &rd.PrescriptionID, &rd.RedeemedBy, &rd.RedeemedAt, &rd.UsedAfter); err != nil {
			return nil, storeErr("list redemptions", err)
		}
		items = append(items, &rd)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list redemptions", err)
	}
	return items, nil
}
