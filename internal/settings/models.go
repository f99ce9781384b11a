package settings

import (
	"time"

	"github.com/shopspring/decimal"
)

// Setting is one tunable platform amount, stored as a decimal string so
// money values survive round-trips exactly.
type Setting struct {
	Key   string          `json:"key" db:"key"`
	Value decimal.Decimal `json:"value" db:"value"`

	UpdatedBy string    `json:"updated_by,omitempty" db:"updated_by"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Well-known setting keys. Unknown keys are rejected on write so a typo in
// an admin request cannot silently create a dead setting.
const (
	KeyCallCost       = "call_cost"
	KeyInitialBalance = "initial_balance"
	KeyReferralReward = "referral_reward"
	KeyResetAmount    = "reset_amount"
)

func knownKey(key string) bool {
	switch key {
	case KeyCallCost, KeyInitialBalance, KeyReferralReward, KeyResetAmount:
		return true
	default:
		return false
	}
}
