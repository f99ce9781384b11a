package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"callcredits-platform/internal/billing"
)

// MemoryRepo is an in-memory Repository for tests. WithTx holds the mutex
// for the whole unit of work, which mirrors the row-lock serialization the
// database gives a single call_id.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]CallSession
	events   []EventLogEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: make(map[string]CallSession)}
}

var _ Repository = (*MemoryRepo)(nil)
var _ billing.CallMarker = (*MemoryRepo)(nil)

func (r *MemoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}

func (r *MemoryRepo) GetCallForUpdate(ctx context.Context, callID string) (CallSession, error) {
	s, ok := r.sessions[callID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) CreateCall(ctx context.Context, s CallSession) error {
	if _, ok := r.sessions[s.CallID]; ok {
		return nil
	}
	r.sessions[s.CallID] = s
	return nil
}

func (r *MemoryRepo) UpdateCall(ctx context.Context, s CallSession) error {
	if _, ok := r.sessions[s.CallID]; !ok {
		return ErrNotFound
	}
	r.sessions[s.CallID] = s
	return nil
}

func (r *MemoryRepo) GetCall(ctx context.Context, callID string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) ListFailedDeductions(ctx context.Context, limit int) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallSession
	for _, s := range r.sessions {
		if s.DeductionStatus == DeductionFailed && s.WasConnected && s.DurationSeconds > 0 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CallID < out[j].CallID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallSession
	for _, s := range r.sessions {
		if (s.State == StateInitiated || s.State == StateRinging) && s.InitiatedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InitiatedAt.Before(out[j].InitiatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) MarkDeductionCompleted(ctx context.Context, callID string, split billing.DeductionSplit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return ErrNotFound
	}
	s.DeductionStatus = DeductionCompleted
	s.DeductedFromBonus = split.FromBonus
	s.DeductedFromBase = split.FromBase
	r.sessions[callID] = s
	return nil
}

func (r *MemoryRepo) AppendEvent(ctx context.Context, e EventLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) ListEvents(ctx context.Context, callID string, limit int) ([]EventLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventLogEntry
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].CallID == callID {
			out = append(out, r.events[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Events returns every logged event, oldest first. Test helper.
func (r *MemoryRepo) Events() []EventLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLogEntry(nil), r.events...)
}

// Put seeds a session directly. Test helper.
func (r *MemoryRepo) Put(s CallSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.CallID] = s
}
