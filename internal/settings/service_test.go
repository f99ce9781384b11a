package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"callcredits-platform/internal/config"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testDefaults() config.BillingConfig {
	return config.BillingConfig{
		CallCost:       dec("1.00"),
		InitialBalance: dec("10.00"),
		ReferralReward: dec("5.00"),
		ResetAmount:    dec("5.00"),
	}
}

func TestService_DefaultsWhenUnset(t *testing.T) {
	svc := NewService(NewMemoryRepo(), testDefaults())
	ctx := context.Background()

	if got := svc.CallCost(ctx); !got.Equal(dec("1.00")) {
		t.Errorf("CallCost = %s, want 1.00", got)
	}
	if got := svc.InitialBalance(ctx); !got.Equal(dec("10.00")) {
		t.Errorf("InitialBalance = %s, want 10.00", got)
	}
	if got := svc.ReferralReward(ctx); !got.Equal(dec("5.00")) {
		t.Errorf("ReferralReward = %s, want 5.00", got)
	}
	if got := svc.ResetAmount(ctx); !got.Equal(dec("5.00")) {
		t.Errorf("ResetAmount = %s, want 5.00", got)
	}
}

func TestService_SetOverridesAndBustsCache(t *testing.T) {
	svc := NewService(NewMemoryRepo(), testDefaults())
	ctx := context.Background()

	// Prime the cache with the default.
	if got := svc.CallCost(ctx); !got.Equal(dec("1.00")) {
		t.Fatalf("CallCost = %s, want 1.00", got)
	}

	if _, err := svc.Set(ctx, KeyCallCost, dec("2.50"), "admin-1"); err != nil {
		t.Fatal(err)
	}
	if got := svc.CallCost(ctx); !got.Equal(dec("2.50")) {
		t.Errorf("CallCost after set = %s, want 2.50", got)
	}
}

func TestService_SetRejectsBadInput(t *testing.T) {
	svc := NewService(NewMemoryRepo(), testDefaults())
	ctx := context.Background()

	if _, err := svc.Set(ctx, "free_money", dec("1.00"), "admin-1"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown key: err = %v", err)
	}
	if _, err := svc.Set(ctx, KeyCallCost, dec("-1.00"), "admin-1"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("negative value: err = %v", err)
	}
}

func TestService_CacheExpires(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, testDefaults())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }
	ctx := context.Background()

	if got := svc.CallCost(ctx); !got.Equal(dec("1.00")) {
		t.Fatalf("CallCost = %s, want 1.00", got)
	}

	// Write behind the service's back; the cached value holds until the TTL.
	if err := repo.Upsert(ctx, Setting{Key: KeyCallCost, Value: dec("3.00")}); err != nil {
		t.Fatal(err)
	}
	if got := svc.CallCost(ctx); !got.Equal(dec("1.00")) {
		t.Fatalf("CallCost within TTL = %s, want cached 1.00", got)
	}

	now = now.Add(time.Minute)
	if got := svc.CallCost(ctx); !got.Equal(dec("3.00")) {
		t.Fatalf("CallCost after TTL = %s, want 3.00", got)
	}
}

func TestService_RepoFailureFallsBackToDefault(t *testing.T) {
	repo := NewMemoryRepo()
	repo.FailReads = errors.New("connection refused")
	svc := NewService(repo, testDefaults())

	if got := svc.CallCost(context.Background()); !got.Equal(dec("1.00")) {
		t.Errorf("CallCost = %s, want default 1.00", got)
	}
}

func TestService_ListFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, testDefaults())
	ctx := context.Background()

	if _, err := svc.Set(ctx, KeyCallCost, dec("2.00"), "admin-1"); err != nil {
		t.Fatal(err)
	}

	all, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("listed %d settings, want 4", len(all))
	}
	byKey := make(map[string]Setting, len(all))
	for _, s := range all {
		byKey[s.Key] = s
	}
	if !byKey[KeyCallCost].Value.Equal(dec("2.00")) {
		t.Errorf("call_cost = %s, want override 2.00", byKey[KeyCallCost].Value)
	}
	if !byKey[KeyResetAmount].Value.Equal(dec("5.00")) {
		t.Errorf("reset_amount = %s, want default 5.00", byKey[KeyResetAmount].Value)
	}
}
