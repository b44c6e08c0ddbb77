package prescription

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps prescriptions in process memory. A single mutex
// makes Redeem linearizable.
type MemoryRepository struct {
	mu          sync.Mutex
	items       map[uuid.UUID]*Prescription
	redemptions map[uuid.UUID][]*Redemption
	nowFunc     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:       make(map[uuid.UUID]*Prescription),
		redemptions: make(map[uuid.UUID][]*Redemption),
		nowFunc:     time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := r.nowFunc().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.items[p.ID] = p.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (r *MemoryRepository) FindBySuffix(_ context.Context, suffix string, limit int) ([]*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Prescription
	for id, p := range r.items {
		if strings.HasSuffix(id.String(), suffix) {
			out = append(out, p.Clone())
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepository) AttachSignature(_ context.Context, id uuid.UUID, sig Signature, at time.Time) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Signed() {
		return nil, ErrAlreadySigned
	}
	p.Signature = Signature{MIME: sig.MIME, Data: append([]byte(nil), sig.Data...)}
	signedAt := at.UTC()
	p.SignedAt = &signedAt
	p.UpdatedAt = signedAt
	return p.Clone(), nil
}

func (r *MemoryRepository) Redeem(_ context.Context, id uuid.UUID, redeemedBy string, now time.Time) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Used >= p.UsageLimit || !now.Before(p.ExpiresAt) || !p.Signed() {
		return nil, ErrRedeemConflict
	}
	p.Used++
	p.UpdatedAt = now.UTC()
	r.redemptions[id] = append(r.redemptions[id], &Redemption{
		ID:             uuid.New(),
		PrescriptionID: id,
		RedeemedBy:     redeemedBy,
		RedeemedAt:     now.UTC(),
		UsedAfter:      p.Used,
	})
	return p.Clone(), nil
}

func (r *MemoryRepository) list(match func(*Prescription) bool, limit, offset int) ([]*Prescription, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*Prescription
	for _, p := range r.items {
		if match(p) {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Prescription, 0, end-offset)
	for _, p := range all[offset:end] {
		out = append(out, p.Clone())
	}
	return out, total
}

func (r *MemoryRepository) ListByPatient(_ context.Context, refs []string, limit, offset int) ([]*Prescription, int, error) {
	want := make(map[string]bool, len(refs))
	for _, ref := range refs {
		want[normalizeRef(ref)] = true
	}
	items, total := r.list(func(p *Prescription) bool { return want[normalizeRef(p.PatientRef)] }, limit, offset)
	return items, total, nil
}

func (r *MemoryRepository) ListByIssuer(_ context.Context, issuerID string, limit, offset int) ([]*Prescription, int, error) {
	items, total := r.list(func(p *Prescription) bool { return p.IssuerID == issuerID }, limit, offset)
	return items, total, nil
}

func (r *MemoryRepository) ListRedemptions(_ context.Context, id uuid.UUID) ([]*Redemption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return nil, ErrNotFound
	}
	src := r.redemptions[id]
	out := make([]*Redemption, len(src))
	for i, rd := range src {
		cp := *rd
		out[i] = &cp
	}
	return out, nil
}
