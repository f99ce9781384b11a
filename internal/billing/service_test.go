package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fixedSettings struct {
	initial decimal.Decimal
}

func (f fixedSettings) InitialBalance(ctx context.Context) decimal.Decimal { return f.initial }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(initial string) (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil, fixedSettings{initial: dec(initial)})
	svc.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestService_RejectsInvalidArgs(t *testing.T) {
	svc, _ := newTestService("10.00")
	ctx := context.Background()

	if _, err := svc.GetOrCreateBalance(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := svc.DeductCallCost(ctx, "u1", decimal.Zero, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero cost, got %v", err)
	}
	if _, _, err := svc.DeductCallCost(ctx, "u1", dec("-1.00"), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for negative cost, got %v", err)
	}
	if _, err := svc.AddReward(ctx, "u1", decimal.Zero); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero reward, got %v", err)
	}
	if _, err := svc.ResetBaseBalance(ctx, "u1", dec("-0.01"), ResetTypeCron); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for negative reset, got %v", err)
	}
	if _, err := svc.ResetBaseBalance(ctx, "u1", dec("5.00"), ResetType("bogus")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for bogus reset type, got %v", err)
	}
}

func TestGetOrCreateBalance_LazyInitWithGrantAndLedger(t *testing.T) {
	svc, repo := newTestService("10.00")
	ctx := context.Background()

	b, err := svc.GetOrCreateBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !b.BaseBalance.Equal(dec("10.00")) || !b.BonusBalance.IsZero() {
		t.Fatalf("expected 10.00 base / 0 bonus, got %s / %s", b.BaseBalance, b.BonusBalance)
	}

	entries := repo.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 init ledger entry, got %d", len(entries))
	}
	if entries[0].Type != LedgerEntryTypeInit {
		t.Fatalf("expected init entry, got %s", entries[0].Type)
	}
	if !entries[0].NewTotal.Equal(dec("10.00")) || !entries[0].PreviousTotal.IsZero() {
		t.Fatalf("unexpected init totals: %s -> %s", entries[0].PreviousTotal, entries[0].NewTotal)
	}

	// Second access must not create a second row or entry.
	if _, err := svc.GetOrCreateBalance(ctx, "u1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := len(repo.Entries()); got != 1 {
		t.Fatalf("expected ledger untouched on second access, got %d entries", got)
	}
}

func TestDeductCallCost_BonusConsumedFirst(t *testing.T) {
	svc, repo := newTestService("0.50")
	ctx := context.Background()

	// base 0.50 + bonus 0.50, charge 1.00
	if _, err := svc.AddReward(ctx, "u1", dec("0.50")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	b, split, err := svc.DeductCallCost(ctx, "u1", dec("1.00"), "call-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !split.FromBonus.Equal(dec("0.50")) || !split.FromBase.Equal(dec("0.50")) {
		t.Fatalf("expected 0.50/0.50 split, got %s/%s", split.FromBonus, split.FromBase)
	}
	if !b.Total().IsZero() {
		t.Fatalf("expected zero total, got %s", b.Total())
	}

	entries := repo.Entries()
	last := entries[len(entries)-1]
	if last.Type != LedgerEntryTypeCallDeduction {
		t.Fatalf("expected call_deduction entry, got %s", last.Type)
	}
	if !last.Delta.Equal(dec("-1.00")) {
		t.Fatalf("expected delta -1.00, got %s", last.Delta)
	}
	if !last.PreviousTotal.Equal(dec("1.00")) || !last.NewTotal.IsZero() {
		t.Fatalf("unexpected totals: %s -> %s", last.PreviousTotal, last.NewTotal)
	}
}

func TestDeductCallCost_SplitAlwaysSumsToCost(t *testing.T) {
	svc, _ := newTestService("10.00")
	ctx := context.Background()

	if _, err := svc.AddReward(ctx, "u1", dec("0.25")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	_, split, err := svc.DeductCallCost(ctx, "u1", dec("1.00"), "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !split.FromBonus.Add(split.FromBase).Equal(dec("1.00")) {
		t.Fatalf("split does not sum to cost: %s + %s", split.FromBonus, split.FromBase)
	}
	if !split.FromBonus.Equal(dec("0.25")) {
		t.Fatalf("expected full bonus consumed, got %s", split.FromBonus)
	}
}

func TestDeductCallCost_InsufficientBalanceNoMutation(t *testing.T) {
	svc, repo := newTestService("0.50")
	ctx := context.Background()

	_, _, err := svc.DeductCallCost(ctx, "u1", dec("1.00"), "call-1")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	b, err := repo.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !b.Total().Equal(dec("0.50")) {
		t.Fatalf("balance mutated on failed debit: %s", b.Total())
	}
	for _, e := range repo.Entries() {
		if e.Type == LedgerEntryTypeCallDeduction {
			t.Fatalf("ledger entry written for failed debit")
		}
	}
}

func TestAddReward_BonusOnly(t *testing.T) {
	svc, repo := newTestService("10.00")
	ctx := context.Background()

	b, err := svc.AddReward(ctx, "u1", dec("5.00"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !b.BaseBalance.Equal(dec("10.00")) {
		t.Fatalf("reward touched base: %s", b.BaseBalance)
	}
	if !b.BonusBalance.Equal(dec("5.00")) {
		t.Fatalf("expected bonus 5.00, got %s", b.BonusBalance)
	}

	entries := repo.Entries()
	last := entries[len(entries)-1]
	if last.Type != LedgerEntryTypeReferralReward || !last.Delta.Equal(dec("5.00")) {
		t.Fatalf("unexpected reward entry: %s %s", last.Type, last.Delta)
	}
}

func TestResetBaseBalance_AbsoluteSetLeavesBonus(t *testing.T) {
	svc, repo := newTestService("10.00")
	ctx := context.Background()

	if _, err := svc.AddReward(ctx, "u1", dec("2.00")); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	b, err := svc.ResetBaseBalance(ctx, "u1", dec("5.00"), ResetTypeCron)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !b.BaseBalance.Equal(dec("5.00")) {
		t.Fatalf("expected base 5.00, got %s", b.BaseBalance)
	}
	if !b.BonusBalance.Equal(dec("2.00")) {
		t.Fatalf("reset touched bonus: %s", b.BonusBalance)
	}
	if b.LastReset == nil {
		t.Fatalf("expected last_reset stamped")
	}

	entries := repo.Entries()
	last := entries[len(entries)-1]
	if last.Type != LedgerEntryTypeReset {
		t.Fatalf("expected reset entry, got %s", last.Type)
	}
	// 12.00 -> 7.00
	if !last.Delta.Equal(dec("-5.00")) {
		t.Fatalf("expected reset delta -5.00, got %s", last.Delta)
	}
}

func TestDeductCallCost_ConcurrentDebitsExactlyOneWins(t *testing.T) {
	svc, _ := newTestService("1.00")
	ctx := context.Background()

	// Materialize the row so both goroutines race on the same balance.
	if _, err := svc.GetOrCreateBalance(ctx, "u1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.DeductCallCost(ctx, "u1", dec("1.00"), "")
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("expected exactly one success and one insufficient, got %d/%d", ok, insufficient)
	}
}
