package referral

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard is an in-memory Guard for tests.
type MemoryGuard struct {
	mu      sync.Mutex
	claimed map[string]time.Time

	clock func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claimed: make(map[string]time.Time), clock: time.Now}
}

var _ Guard = (*MemoryGuard)(nil)

func (g *MemoryGuard) CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()
	if exp, ok := g.claimed[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.claimed[key] = now.Add(ttl)
	return true, nil
}
