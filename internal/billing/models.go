package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserBalance is the per-user prepaid call credit record.
//
// Two buckets:
// - BaseBalance is the periodically-reset pool (scheduled policy, absolute set).
// - BonusBalance comes from referral rewards and is never auto-reset.
//
// Money invariants:
// - Both buckets are always >= 0; an operation that would drive either
//   negative fails whole (no partial debit).
// - No balance update without a corresponding ledger entry.
// - Only this package mutates balance fields.
type UserBalance struct {
	UserID string `json:"user_id" db:"user_id"`

	BaseBalance  decimal.Decimal `json:"base_balance" db:"base_balance"`
	BonusBalance decimal.Decimal `json:"bonus_balance" db:"bonus_balance"`

	// LastReset is set by ResetBaseBalance only.
	LastReset *time.Time `json:"last_reset,omitempty" db:"last_reset"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Total is derived, never stored.
func (b UserBalance) Total() decimal.Decimal {
	return b.BaseBalance.Add(b.BonusBalance)
}

// LedgerEntry is an immutable append-only audit row describing one balance
// mutation. Created in the same atomic unit as the mutation it describes.
type LedgerEntry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Type LedgerEntryType `json:"entry_type" db:"entry_type"`

	PreviousTotal decimal.Decimal `json:"previous_total" db:"previous_total"`
	NewTotal      decimal.Decimal `json:"new_total" db:"new_total"`
	// Delta is signed: deductions are negative, credits positive.
	Delta decimal.Decimal `json:"delta" db:"delta"`

	// Notes carries a short operator-readable description (call ref, reset type).
	Notes string `json:"notes,omitempty" db:"notes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCallDeduction  LedgerEntryType = "call_deduction"
	LedgerEntryTypeReferralReward LedgerEntryType = "referral_reward"
	LedgerEntryTypeReset          LedgerEntryType = "reset"
	LedgerEntryTypeInit           LedgerEntryType = "init"
)

// DeductionSplit records how a charge was covered across the two buckets.
// FromBonus + FromBase always equals the charged cost.
type DeductionSplit struct {
	FromBonus decimal.Decimal `json:"deducted_from_bonus"`
	FromBase  decimal.Decimal `json:"deducted_from_base"`
}

// ResetType categorizes who triggered a base-balance reset.
type ResetType string

const (
	ResetTypeCron   ResetType = "cron"
	ResetTypeManual ResetType = "manual"
	ResetTypeAdmin  ResetType = "admin"
)

func (r ResetType) valid() bool {
	switch r {
	case ResetTypeCron, ResetTypeManual, ResetTypeAdmin:
		return true
	default:
		return false
	}
}
