package prescription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rxtrust/rxtrust/internal/platform/events"
	"github.com/rxtrust/rxtrust/internal/platform/metrics"
)

// suffixProbe is how many matches FindBySuffix is asked for. Two is enough
// to tell a unique match from an ambiguous one.
const suffixProbe = 2

// resolve decodes token and returns the single record it names.
func (s *Service) resolve(ctx context.Context, token string) (*Prescription, error) {
	suffix, err := s.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	matches, err := s.repo.FindBySuffix(ctx, suffix, suffixProbe)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, ErrAmbiguous
	}
}

// checkRedeemable applies the redemption preconditions in order. Expiry is
// reported before exhaustion, and both before a missing signature.
func checkRedeemable(p *Prescription, now time.Time) error {
	switch p.StatusAt(now) {
	case StatusExpired:
		return ErrExpired
	case StatusCompleted:
		return ErrExhaustedUsage
	}
	if !p.Signed() {
		return ErrUnsigned
	}
	return nil
}

// Verify redeems one use of the prescription named by token on behalf of
// redeemedBy and returns the record as it is after the increment. No write
// happens on any failure path.
func (s *Service) Verify(ctx context.Context, token, redeemedBy string) (v *View, err error) {
	timer := prometheus.NewTimer(metrics.VerifyDuration)
	defer func() {
		timer.ObserveDuration()
		reason := Reason(err)
		metrics.Verifications.WithLabelValues(reason).Inc()
		ev := s.logger.Info()
		if errors.Is(err, ErrStoreUnavailable) {
			ev = s.logger.Error().Err(err)
		}
		ev.Str("reason", reason).Str("redeemed_by", redeemedBy).Msg("verification")
	}()

	p, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.nowFunc()
	if err := checkRedeemable(p, now); err != nil {
		return nil, err
	}

	redeemed, err := s.repo.Redeem(ctx, p.ID, redeemedBy, now)
	if errors.Is(err, ErrRedeemConflict) {
		return nil, s.classifyConflict(ctx, p, now)
	}
	if err != nil {
		return nil, err
	}

	s.afterRedeem(ctx, redeemed)
	return s.view(redeemed), nil
}

// classifyConflict explains a conditional update that matched nothing,
// normally because a concurrent redemption took the last use.
func (s *Service) classifyConflict(ctx context.Context, before *Prescription, now time.Time) error {
	current, err := s.repo.GetByID(ctx, before.ID)
	if err != nil {
		return err
	}
	if err := checkRedeemable(current, now); err != nil {
		return err
	}
	return fmt.Errorf("%w: record changed during redemption", ErrExhaustedUsage)
}

func (s *Service) afterRedeem(ctx context.Context, p *Prescription) {
	s.publish(ctx, events.TypePrescriptionRedeemed, p)

	room := s.delivery.Room(ctx, p.PatientRef)
	msg := fmt.Sprintf("Your prescription was dispensed (%d of %d uses).", p.Used, p.UsageLimit)
	if err := s.notifier.Notify(ctx, room, NotifyKindRedeemed, msg, p.ID.String()); err != nil {
		s.logger.Warn().Err(err).Str("prescription_id", p.ID.String()).Msg("notification failed")
	}
}

// Inspect runs the same checks as Verify without consuming a use.
func (s *Service) Inspect(ctx context.Context, token string) (*View, error) {
	p, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := checkRedeemable(p, s.nowFunc()); err != nil {
		return nil, err
	}
	return s.view(p), nil
}
