package reporting

import (
	"context"
	"sync"
	"time"

	"callcredits-platform/internal/billing"
	"callcredits-platform/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
type MemoryRepo struct {
	mu sync.Mutex

	Calls   []calls.CallSession
	Entries []billing.LedgerEntry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

var _ Repository = (*MemoryRepo)(nil)

func (r *MemoryRepo) ListCalls(ctx context.Context, from, to time.Time, userID string) ([]calls.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallSession, 0)
	for _, c := range r.Calls {
		if c.InitiatedAt.Before(from) || !c.InitiatedAt.Before(to) {
			continue
		}
		if userID != "" && c.InviterID != userID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListLedger(ctx context.Context, from, to time.Time, userID string) ([]billing.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]billing.LedgerEntry, 0)
	for _, e := range r.Entries {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
