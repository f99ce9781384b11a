package billing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory Repository useful for tests.
// WithTx serializes whole units of work behind one mutex, which gives the
// same per-user ordering the Postgres row lock provides. It does not roll
// back: the services only fail before mutating. Not intended for production.
type MemoryRepo struct {
	mu       sync.Mutex
	balances map[string]UserBalance
	ledger   []LedgerEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{balances: make(map[string]UserBalance)}
}

func (r *MemoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}

func (r *MemoryRepo) GetOrCreateBalanceForUpdate(ctx context.Context, userID string, initialBase decimal.Decimal, now time.Time) (UserBalance, bool, error) {
	if b, ok := r.balances[userID]; ok {
		return b, false, nil
	}
	b := UserBalance{
		UserID:       userID,
		BaseBalance:  initialBase,
		BonusBalance: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.balances[userID] = b
	return b, true, nil
}

func (r *MemoryRepo) UpdateBalance(ctx context.Context, b UserBalance) error {
	if _, ok := r.balances[b.UserID]; !ok {
		return ErrNotFound
	}
	r.balances[b.UserID] = b
	return nil
}

func (r *MemoryRepo) InsertLedgerEntry(ctx context.Context, e LedgerEntry) error {
	r.ledger = append(r.ledger, e)
	return nil
}

func (r *MemoryRepo) GetBalance(ctx context.Context, userID string) (UserBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[userID]
	if !ok {
		return UserBalance{}, ErrNotFound
	}
	return b, nil
}

func (r *MemoryRepo) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerEntry
	for i := len(r.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if r.ledger[i].UserID == userID {
			out = append(out, r.ledger[i])
		}
	}
	return out, nil
}

// Entries returns a copy of every ledger row, oldest first. Test helper.
func (r *MemoryRepo) Entries() []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LedgerEntry, len(r.ledger))
	copy(out, r.ledger)
	return out
}
