package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"callcredits-platform/internal/config"
	"callcredits-platform/pkg/logger"

	"github.com/shopspring/decimal"
)

// Repository abstracts setting persistence.
type Repository interface {
	Get(ctx context.Context, key string) (Setting, bool, error)
	// Upsert inserts or replaces the setting.
	Upsert(ctx context.Context, s Setting) error
	List(ctx context.Context) ([]Setting, error)
}

var (
	ErrUnknownKey   = errors.New("settings: unknown key")
	ErrInvalidValue = errors.New("settings: invalid value")
)

// Service resolves platform amounts with a short read-through cache. A
// missing row falls back to the configured default, so a fresh database
// works without seeding.
type Service struct {
	repo     Repository
	defaults config.BillingConfig
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cached

	clock func() time.Time
}

type cached struct {
	value   decimal.Decimal
	expires time.Time
}

func NewService(repo Repository, defaults config.BillingConfig) *Service {
	return &Service{
		repo:     repo,
		defaults: defaults,
		cacheTTL: 30 * time.Second,
		cache:    make(map[string]cached),
		clock:    time.Now,
	}
}

// CallCost is the flat charge for one connected call.
func (s *Service) CallCost(ctx context.Context) decimal.Decimal {
	return s.resolve(ctx, KeyCallCost, s.defaults.CallCost)
}

// InitialBalance is the base-bucket grant for a first-seen user.
func (s *Service) InitialBalance(ctx context.Context) decimal.Decimal {
	return s.resolve(ctx, KeyInitialBalance, s.defaults.InitialBalance)
}

// ReferralReward is the default bonus credited per referral.
func (s *Service) ReferralReward(ctx context.Context) decimal.Decimal {
	return s.resolve(ctx, KeyReferralReward, s.defaults.ReferralReward)
}

// ResetAmount is the base balance applied by a scheduled reset.
func (s *Service) ResetAmount(ctx context.Context) decimal.Decimal {
	return s.resolve(ctx, KeyResetAmount, s.defaults.ResetAmount)
}

// Set overrides a well-known setting. Amounts must be non-negative.
func (s *Service) Set(ctx context.Context, key string, value decimal.Decimal, updatedBy string) (Setting, error) {
	if !knownKey(key) {
		return Setting{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if value.IsNegative() {
		return Setting{}, fmt.Errorf("%w: %s must not be negative", ErrInvalidValue, key)
	}

	st := Setting{Key: key, Value: value, UpdatedBy: updatedBy, UpdatedAt: s.clock().UTC()}
	if err := s.repo.Upsert(ctx, st); err != nil {
		return Setting{}, err
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return st, nil
}

// List returns every stored override together with defaults for keys that
// have none.
func (s *Service) List(ctx context.Context) ([]Setting, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(stored))
	for _, st := range stored {
		seen[st.Key] = true
	}
	for key, def := range map[string]decimal.Decimal{
		KeyCallCost:       s.defaults.CallCost,
		KeyInitialBalance: s.defaults.InitialBalance,
		KeyReferralReward: s.defaults.ReferralReward,
		KeyResetAmount:    s.defaults.ResetAmount,
	} {
		if !seen[key] {
			stored = append(stored, Setting{Key: key, Value: def})
		}
	}
	return stored, nil
}

// resolve never fails: a repository error degrades to the configured
// default so billing keeps working through a settings-store outage.
func (s *Service) resolve(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal {
	now := s.clock()

	s.mu.RLock()
	c, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && now.Before(c.expires) {
		return c.value
	}

	value := def
	st, found, err := s.repo.Get(ctx, key)
	if err != nil {
		logger.From(ctx).Warn("settings lookup failed, using default", "key", key, "err", err)
		return def
	}
	if found {
		value = st.Value
	}

	s.mu.Lock()
	s.cache[key] = cached{value: value, expires: now.Add(s.cacheTTL)}
	s.mu.Unlock()
	return value
}
