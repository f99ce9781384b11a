package utils

import (
	"context"
	"testing"
	"time"
)

func TestRedisGuard_RejectsInvalidInput(t *testing.T) {
	g := NewRedisGuard(nil, "guard:")
	if _, err := g.CheckAndSet(context.Background(), "k", time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
