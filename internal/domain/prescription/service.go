package prescription

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/rxtrust/rxtrust/internal/platform/auth"
	"github.com/rxtrust/rxtrust/internal/platform/events"
	"github.com/rxtrust/rxtrust/internal/platform/metrics"
)

const (
	NotifyKindReceived = "prescription.received"
	NotifyKindRedeemed = "prescription.redeemed"

	DefaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// Caller is the authenticated party behind a request.
type Caller struct {
	UserID string
	Email  string
	Roles  []string
}

// Has reports whether the caller holds role. Admin holds every role.
func (c Caller) Has(role string) bool {
	for _, r := range c.Roles {
		if r == role || r == auth.RoleAdmin {
			return true
		}
	}
	return false
}

// refs are the patient references the caller answers to.
func (c Caller) refs() []string {
	refs := []string{normalizeRef(c.UserID)}
	if c.Email != "" {
		refs = append(refs, normalizeRef(c.Email))
	}
	return refs
}

func (c Caller) isIssuer(p *Prescription) bool {
	return c.UserID != "" && p.IssuerID == c.UserID
}

func (c Caller) isPatient(p *Prescription) bool {
	ref := normalizeRef(p.PatientRef)
	for _, r := range c.refs() {
		if r != "" && r == ref {
			return true
		}
	}
	return false
}

type Service struct {
	repo     Repository
	codec    *Codec
	delivery *Delivery
	notifier Notifier
	events   events.Publisher
	logger   zerolog.Logger
	nowFunc  func() time.Time
}

func NewService(repo Repository, codec *Codec, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "prescriptions").Logger()
	return &Service{
		repo:     repo,
		codec:    codec,
		delivery: NewDelivery(nil, nil, logger),
		notifier: nopNotifier{},
		events:   events.Nop{},
		logger:   logger,
		nowFunc:  time.Now,
	}
}

func (s *Service) SetDelivery(d *Delivery) {
	s.delivery = d
}

func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Service) SetEventPublisher(p events.Publisher) {
	s.events = p
}

func (s *Service) Codec() *Codec { return s.codec }

func (s *Service) view(p *Prescription) *View {
	return NewView(p, s.codec, s.nowFunc())
}

func (s *Service) views(items []*Prescription) []*View {
	now := s.nowFunc()
	out := make([]*View, len(items))
	for i, p := range items {
		out[i] = NewView(p, s.codec, now)
	}
	return out
}

func nonNegative(name string, v *float64) error {
	if v != nil && *v < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidPrescription, name)
	}
	return nil
}

func (s *Service) validate(issuerID string, req *CreateRequest, now time.Time) error {
	if strings.TrimSpace(issuerID) == "" {
		return fmt.Errorf("%w: issuer is required", ErrInvalidPrescription)
	}
	req.PatientRef = strings.TrimSpace(req.PatientRef)
	if req.PatientRef == "" {
		return fmt.Errorf("%w: patient_ref is required", ErrInvalidPrescription)
	}
	meds := make([]string, 0, len(req.Medications))
	for _, m := range req.Medications {
		if m = strings.TrimSpace(m); m != "" {
			meds = append(meds, m)
		}
	}
	if len(meds) == 0 {
		return fmt.Errorf("%w: at least one medication is required", ErrInvalidPrescription)
	}
	req.Medications = meds
	req.Instructions = strings.TrimSpace(req.Instructions)
	if req.UsageLimit < 1 {
		return fmt.Errorf("%w: usage_limit must be at least 1", ErrInvalidPrescription)
	}
	if !req.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expires_at must be in the future", ErrInvalidPrescription)
	}
	if req.Demographics.Age != nil && *req.Demographics.Age < 0 {
		return fmt.Errorf("%w: age must not be negative", ErrInvalidPrescription)
	}
	if err := nonNegative("weight", req.Demographics.Weight); err != nil {
		return err
	}
	return nonNegative("height", req.Demographics.Height)
}

// Create stores a new prescription for the issuing doctor. A request that
// carries a signature is delivered to the patient immediately; otherwise the
// record is a draft until Sign.
func (s *Service) Create(ctx context.Context, caller Caller, req CreateRequest) (*View, error) {
	now := s.nowFunc()
	if err := s.validate(caller.UserID, &req, now); err != nil {
		return nil, err
	}

	p := &Prescription{
		IssuerID:     caller.UserID,
		PatientRef:   req.PatientRef,
		Instructions: req.Instructions,
		Medications:  req.Medications,
		Demographics: req.Demographics,
		UsageLimit:   req.UsageLimit,
		ExpiresAt:    req.ExpiresAt.UTC(),
		Signature:    req.Signature,
	}
	if p.Signed() {
		signedAt := now.UTC()
		p.SignedAt = &signedAt
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	metrics.PrescriptionsIssued.WithLabelValues(strconv.FormatBool(p.Signed())).Inc()
	s.logger.Info().
		Str("prescription_id", p.ID.String()).
		Str("issuer_id", p.IssuerID).
		Bool("signed", p.Signed()).
		Msg("prescription issued")

	s.publish(ctx, events.TypePrescriptionIssued, p)
	v := s.view(p)
	if p.Signed() {
		s.deliver(ctx, v)
	}
	return v, nil
}

// Sign attaches the issuer's signature to a draft and delivers it.
func (s *Service) Sign(ctx context.Context, caller Caller, id uuid.UUID, sig Signature) (*View, error) {
	if sig.Empty() {
		return nil, fmt.Errorf("%w: signature is required", ErrInvalidPrescription)
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.isIssuer(p) {
		return nil, ErrForbidden
	}
	if p.Signed() {
		return nil, ErrAlreadySigned
	}
	signed, err := s.repo.AttachSignature(ctx, id, sig, s.nowFunc().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("prescription_id", id.String()).Msg("prescription signed")

	s.publish(ctx, events.TypePrescriptionSigned, signed)
	v := s.view(signed)
	s.deliver(ctx, v)
	return v, nil
}

// Get returns the prescription if the caller issued it, is its patient, or
// is a pharmacy.
func (s *Service) Get(ctx context.Context, caller Caller, id uuid.UUID) (*View, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.isIssuer(p) && !caller.isPatient(p) && !caller.Has(auth.RolePharmacy) {
		return nil, ErrForbidden
	}
	return s.view(p), nil
}

// Token returns the scannable token. Unsigned drafts have none.
func (s *Service) Token(ctx context.Context, caller Caller, id uuid.UUID) (string, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !caller.isIssuer(p) && !caller.isPatient(p) && !caller.Has(auth.RoleAdmin) {
		return "", ErrForbidden
	}
	if !p.Signed() {
		return "", ErrUnsigned
	}
	return s.codec.Encode(p.ID), nil
}

// QR renders the token as a PNG of size pixels, clamped to 128..1024.
func (s *Service) QR(ctx context.Context, caller Caller, id uuid.UUID, size int) ([]byte, error) {
	token, err := s.Token(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	switch {
	case size <= 0:
		size = DefaultQRSize
	case size < minQRSize:
		size = minQRSize
	case size > maxQRSize:
		size = maxQRSize
	}
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

// Redemptions returns the redemption log, visible to the issuer and
// pharmacies.
func (s *Service) Redemptions(ctx context.Context, caller Caller, id uuid.UUID) ([]*Redemption, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.isIssuer(p) && !caller.Has(auth.RolePharmacy) {
		return nil, ErrForbidden
	}
	return s.repo.ListRedemptions(ctx, id)
}

// ListForPatient lists the caller's prescriptions with their derived status.
// It also links the caller's email to their user id so later deliveries
// addressed by email reach their room.
func (s *Service) ListForPatient(ctx context.Context, caller Caller, limit, offset int) ([]*View, int, error) {
	if caller.UserID == "" {
		return nil, 0, ErrForbidden
	}
	if err := s.delivery.dir.Learn(ctx, caller.UserID, caller.Email); err != nil {
		s.logger.Warn().Err(err).Msg("could not link patient email")
	}
	items, total, err := s.repo.ListByPatient(ctx, caller.refs(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return s.views(items), total, nil
}

// ListIssued lists the prescriptions the caller issued.
func (s *Service) ListIssued(ctx context.Context, caller Caller, limit, offset int) ([]*View, int, error) {
	if caller.UserID == "" {
		return nil, 0, ErrForbidden
	}
	items, total, err := s.repo.ListByIssuer(ctx, caller.UserID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return s.views(items), total, nil
}

// LinkPatient records that userID is reachable under email.
func (s *Service) LinkPatient(ctx context.Context, userID, email string) {
	if err := s.delivery.dir.Learn(ctx, userID, email); err != nil {
		s.logger.Warn().Err(err).Msg("could not link patient email")
	}
}

func (s *Service) deliver(ctx context.Context, v *View) {
	s.delivery.PublishPrescription(ctx, v)
	room := s.delivery.Room(ctx, v.PatientRef)
	if err := s.notifier.Notify(ctx, room, NotifyKindReceived, "You have a new prescription.", v.ID.String()); err != nil {
		s.logger.Warn().Err(err).Str("prescription_id", v.ID.String()).Msg("notification failed")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, p *Prescription) {
	ev := events.Event{
		Type:       eventType,
		Key:        p.ID.String(),
		OccurredAt: s.nowFunc().UTC(),
		Data: map[string]interface{}{
			"prescription_id": p.ID.String(),
			"issuer_id":       p.IssuerID,
			"used":            p.Used,
			"usage_limit":     p.UsageLimit,
			"expires_at":      p.ExpiresAt,
			"signed":          p.Signed(),
		},
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("event publish failed")
	}
}
