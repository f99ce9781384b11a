// Package referral credits bonus balance for successful referrals, with an
// idempotency guard so retried or replayed triggers pay out at most once.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callcredits-platform/internal/billing"
	"callcredits-platform/pkg/logger"

	"github.com/shopspring/decimal"
)

// Guard is a check-and-set dedupe primitive. CheckAndSet returns true when
// the key was absent and is now claimed for the TTL.
type Guard interface {
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Rewarder is the slice of the billing service this package consumes.
type Rewarder interface {
	AddReward(ctx context.Context, userID string, amount decimal.Decimal) (billing.UserBalance, error)
}

// SettingsProvider supplies the default reward amount.
type SettingsProvider interface {
	ReferralReward(ctx context.Context) decimal.Decimal
}

var (
	ErrInvalidArgument = errors.New("referral: invalid argument")
	ErrSelfReferral    = errors.New("referral: users cannot refer themselves")
)

type Service struct {
	guard    Guard
	billing  Rewarder
	settings SettingsProvider
	guardTTL time.Duration
}

func NewService(guard Guard, billing Rewarder, settings SettingsProvider, guardTTL time.Duration) *Service {
	if guardTTL <= 0 {
		guardTTL = 24 * time.Hour
	}
	return &Service{guard: guard, billing: billing, settings: settings, guardTTL: guardTTL}
}

// Reward credits the referrer's bonus bucket for referring referredID. The
// returned bool is false when the pair was already rewarded inside the guard
// window; the balance returned is the zero value in that case.
//
// The guard is claimed before the credit, so a crash between the two can
// lose one reward but never duplicate one. Amount zero means "use the
// platform default".
func (s *Service) Reward(ctx context.Context, referrerID, referredID string, amount decimal.Decimal) (billing.UserBalance, bool, error) {
	if referrerID == "" || referredID == "" {
		return billing.UserBalance{}, false, fmt.Errorf("%w: referrer and referred ids are required", ErrInvalidArgument)
	}
	if referrerID == referredID {
		return billing.UserBalance{}, false, ErrSelfReferral
	}
	if amount.IsNegative() {
		return billing.UserBalance{}, false, fmt.Errorf("%w: amount must not be negative", ErrInvalidArgument)
	}
	if amount.IsZero() {
		amount = s.settings.ReferralReward(ctx)
	}

	key := fmt.Sprintf("referral:%s:%s", referrerID, referredID)
	fresh, err := s.guard.CheckAndSet(ctx, key, s.guardTTL)
	if err != nil {
		return billing.UserBalance{}, false, err
	}
	if !fresh {
		logger.From(ctx).Info("duplicate referral reward suppressed",
			"referrer_id", referrerID, "referred_id", referredID)
		return billing.UserBalance{}, false, nil
	}

	bal, err := s.billing.AddReward(ctx, referrerID, amount)
	if err != nil {
		return billing.UserBalance{}, false, err
	}
	return bal, true, nil
}
