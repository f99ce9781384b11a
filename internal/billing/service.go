package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callcredits-platform/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository is the persistence contract for balances and ledger entries.
//
// Methods documented as tx-only must be called inside WithTx; the Postgres
// implementation relies on the row lock taken there.
type Repository interface {
	// WithTx runs fn as one atomic unit. Nested units join the enclosing one.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// GetOrCreateBalanceForUpdate locks the user's balance row, creating it
	// with the supplied initial base grant if absent. tx-only.
	// Concurrent first-accesses must resolve to the same row, never two.
	GetOrCreateBalanceForUpdate(ctx context.Context, userID string, initialBase decimal.Decimal, now time.Time) (UserBalance, bool, error)

	// UpdateBalance persists bucket values and reset timestamp. tx-only.
	UpdateBalance(ctx context.Context, b UserBalance) error

	// InsertLedgerEntry appends an immutable audit row. tx-only.
	InsertLedgerEntry(ctx context.Context, e LedgerEntry) error

	// GetBalance reads without locking.
	GetBalance(ctx context.Context, userID string) (UserBalance, error)

	// ListLedgerEntries returns newest-first audit rows for a user.
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
}

// CallMarker updates a call's deduction bookkeeping in the same unit of work
// as the debit that paid for it. Implemented by the call record store.
type CallMarker interface {
	MarkDeductionCompleted(ctx context.Context, callID string, split DeductionSplit) error
}

// SettingsProvider supplies the policy amounts this service consumes.
type SettingsProvider interface {
	InitialBalance(ctx context.Context) decimal.Decimal
}

var (
	ErrNotFound            = errors.New("billing: not found")
	ErrInsufficientBalance = errors.New("billing: insufficient balance")
	ErrInvalidArgument     = errors.New("billing: invalid argument")
)

// Service owns all balance mutation.
//
// Money invariants:
// - No balance update without a ledger entry, both in one transaction.
// - Ledger is append-only (immutable).
// - Bonus is consumed before base; fixed business rule, not configurable.
//
// Lock ordering: balance row before dependent call row.
type Service struct {
	repo     Repository
	calls    CallMarker // optional; nil disables call bookkeeping
	settings SettingsProvider

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, calls CallMarker, settings SettingsProvider) *Service {
	return &Service{repo: repo, calls: calls, settings: settings, clock: time.Now}
}

// GetOrCreateBalance returns the user's balance, lazily creating it with the
// configured initial grant and an `init` ledger entry.
func (s *Service) GetOrCreateBalance(ctx context.Context, userID string) (UserBalance, error) {
	if userID == "" {
		return UserBalance{}, ErrInvalidArgument
	}

	var out UserBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		b, _, err := s.lockOrInit(ctx, userID)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// DeductCallCost atomically debits cost from the user's balance, bonus bucket
// first. When callRef is supplied the call's deduction bookkeeping is updated
// in the same unit of work.
//
// Fails with ErrInsufficientBalance without any mutation when the total does
// not cover cost. Safe to retry after such a failure (the prior attempt wrote
// nothing), which is what the reconciliation sweep relies on.
func (s *Service) DeductCallCost(ctx context.Context, userID string, cost decimal.Decimal, callRef string) (UserBalance, DeductionSplit, error) {
	if userID == "" || !cost.IsPositive() {
		return UserBalance{}, DeductionSplit{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var outBal UserBalance
	var outSplit DeductionSplit

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		b, _, err := s.lockOrInit(ctx, userID)
		if err != nil {
			return err
		}

		// Re-check under the lock; a concurrent debit may have drained the total.
		prevTotal := b.Total()
		if prevTotal.LessThan(cost) {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, cost, prevTotal)
		}

		split := DeductionSplit{
			FromBonus: decimal.Min(cost, b.BonusBalance),
		}
		split.FromBase = cost.Sub(split.FromBonus)

		b.BonusBalance = b.BonusBalance.Sub(split.FromBonus)
		b.BaseBalance = b.BaseBalance.Sub(split.FromBase)
		b.UpdatedAt = now
		if err := s.repo.UpdateBalance(ctx, b); err != nil {
			return err
		}

		notes := "call deduction"
		if callRef != "" {
			notes = "call deduction " + callRef
		}
		if err := s.repo.InsertLedgerEntry(ctx, LedgerEntry{
			ID:            uuid.NewString(),
			UserID:        userID,
			Type:          LedgerEntryTypeCallDeduction,
			PreviousTotal: prevTotal,
			NewTotal:      b.Total(),
			Delta:         cost.Neg(),
			Notes:         notes,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		if callRef != "" && s.calls != nil {
			if err := s.calls.MarkDeductionCompleted(ctx, callRef, split); err != nil {
				return err
			}
		}

		outBal = b
		outSplit = split
		return nil
	})
	if err != nil {
		return UserBalance{}, DeductionSplit{}, err
	}

	logger.From(ctx).Info("call cost deducted",
		"user_id", userID,
		"cost", cost.String(),
		"from_bonus", outSplit.FromBonus.String(),
		"from_base", outSplit.FromBase.String(),
		"call_id", callRef,
	)
	return outBal, outSplit, nil
}

// AddReward credits amount entirely to the bonus bucket. Rewards never touch
// base. Not idempotent by design; duplicate suppression for the same trigger
// is the caller's responsibility (see internal/referral).
func (s *Service) AddReward(ctx context.Context, userID string, amount decimal.Decimal) (UserBalance, error) {
	if userID == "" || !amount.IsPositive() {
		return UserBalance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var out UserBalance

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		b, _, err := s.lockOrInit(ctx, userID)
		if err != nil {
			return err
		}

		prevTotal := b.Total()
		b.BonusBalance = b.BonusBalance.Add(amount)
		b.UpdatedAt = now
		if err := s.repo.UpdateBalance(ctx, b); err != nil {
			return err
		}

		if err := s.repo.InsertLedgerEntry(ctx, LedgerEntry{
			ID:            uuid.NewString(),
			UserID:        userID,
			Type:          LedgerEntryTypeReferralReward,
			PreviousTotal: prevTotal,
			NewTotal:      b.Total(),
			Delta:         amount,
			Notes:         "referral reward",
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		out = b
		return nil
	})
	return out, err
}

// ResetBaseBalance sets the base bucket to newAmount (absolute, not a delta)
// and stamps last_reset. Bonus is untouched. Cadence and amount are external
// policy; this only executes the set.
func (s *Service) ResetBaseBalance(ctx context.Context, userID string, newAmount decimal.Decimal, resetType ResetType) (UserBalance, error) {
	if userID == "" || newAmount.IsNegative() || !resetType.valid() {
		return UserBalance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	var out UserBalance

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		b, _, err := s.lockOrInit(ctx, userID)
		if err != nil {
			return err
		}

		prevTotal := b.Total()
		b.BaseBalance = newAmount
		b.LastReset = &now
		b.UpdatedAt = now
		if err := s.repo.UpdateBalance(ctx, b); err != nil {
			return err
		}

		if err := s.repo.InsertLedgerEntry(ctx, LedgerEntry{
			ID:            uuid.NewString(),
			UserID:        userID,
			Type:          LedgerEntryTypeReset,
			PreviousTotal: prevTotal,
			NewTotal:      b.Total(),
			Delta:         b.Total().Sub(prevTotal),
			Notes:         string(resetType) + " reset",
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		out = b
		return nil
	})
	return out, err
}

// ListLedger exposes the audit trail, newest first.
func (s *Service) ListLedger(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListLedgerEntries(ctx, userID, limit)
}

// lockOrInit locks the balance row, creating it with the initial grant and an
// init ledger entry on first access. tx-only.
func (s *Service) lockOrInit(ctx context.Context, userID string) (UserBalance, bool, error) {
	now := s.clock().UTC()

	initial := decimal.Zero
	if s.settings != nil {
		initial = s.settings.InitialBalance(ctx)
	}

	b, created, err := s.repo.GetOrCreateBalanceForUpdate(ctx, userID, initial, now)
	if err != nil {
		return UserBalance{}, false, err
	}
	if created {
		if err := s.repo.InsertLedgerEntry(ctx, LedgerEntry{
			ID:            uuid.NewString(),
			UserID:        userID,
			Type:          LedgerEntryTypeInit,
			PreviousTotal: decimal.Zero,
			NewTotal:      b.Total(),
			Delta:         b.Total(),
			Notes:         "initial balance grant",
			CreatedAt:     now,
		}); err != nil {
			return UserBalance{}, false, err
		}
	}
	return b, created, nil
}
