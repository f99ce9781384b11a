package settings

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Setting

	// FailReads makes Get return an error, for degradation tests.
	FailReads error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]Setting)}
}

var _ Repository = (*MemoryRepo)(nil)

func (r *MemoryRepo) Get(ctx context.Context, key string) (Setting, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailReads != nil {
		return Setting{}, false, r.FailReads
	}
	s, ok := r.rows[key]
	return s, ok, nil
}

func (r *MemoryRepo) Upsert(ctx context.Context, s Setting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.Key] = s
	return nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Setting, 0, len(r.rows))
	for _, s := range r.rows {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
