package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the prescription store. Implementations wrap infrastructure
// failures with ErrStoreUnavailable and report missing rows as ErrNotFound.
type Repository interface {
	// Create assigns ID and timestamps and persists p.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// FindBySuffix returns at most limit records whose id ends in suffix.
	FindBySuffix(ctx context.Context, suffix string, limit int) ([]*Prescription, error)
	// AttachSignature sets the signature of an unsigned record. A record that
	// already has one yields ErrAlreadySigned.
	AttachSignature(ctx context.Context, id uuid.UUID, sig Signature, at time.Time) (*Prescription, error)
	// Redeem increments used in one conditional step that requires
	// used < usage_limit, expires_at > now and a signature, and records the
	// redemption. When the condition fails nothing is written and
	// ErrRedeemConflict is returned.
	Redeem(ctx context.Context, id uuid.UUID, redeemedBy string, now time.Time) (*Prescription, error)
	ListByPatient(ctx context.Context, refs []string, limit, offset int) ([]*Prescription, int, error)
	ListByIssuer(ctx context.Context, issuerID string, limit, offset int) ([]*Prescription, int, error)
	ListRedemptions(ctx context.Context, id uuid.UUID) ([]*Redemption, error)
}
