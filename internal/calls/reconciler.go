package calls

import (
	"context"
	"errors"
	"time"

	"callcredits-platform/internal/billing"
	"callcredits-platform/pkg/logger"
)

// ReconciliationSummary reports one sweep over failed deductions.
type ReconciliationSummary struct {
	TotalProcessed int `json:"total_processed"`
	Reconciled     int `json:"reconciled"`
	StillFailed    int `json:"still_failed"`
}

// Reconciler retries the debit for connected calls whose end-of-call
// deduction failed, typically because the inviter's balance ran dry while
// the call was in progress.
type Reconciler struct {
	repo   Repository
	ledger Ledger

	batchSize int
	clock     func() time.Time
}

func NewReconciler(repo Repository, ledger Ledger) *Reconciler {
	return &Reconciler{repo: repo, ledger: ledger, batchSize: 100, clock: time.Now}
}

// Run processes one batch of failed deductions. Each call settles
// independently; one failure never stops the sweep. A call already repaired
// by a concurrent sweep counts as reconciled.
func (r *Reconciler) Run(ctx context.Context) (ReconciliationSummary, error) {
	var sum ReconciliationSummary

	pending, err := r.repo.ListFailedDeductions(ctx, r.batchSize)
	if err != nil {
		return sum, err
	}

	for _, sess := range pending {
		sum.TotalProcessed++
		// The stored cost is charged, not the current rate: the call is
		// billed at the price in force when it was placed.
		_, _, err := r.ledger.DeductCallCost(ctx, sess.InviterID, sess.CallCost, sess.CallID)
		if err != nil {
			sum.StillFailed++
			if !errors.Is(err, billing.ErrInsufficientBalance) {
				logger.From(ctx).Warn("reconciliation retry failed",
					"call_id", sess.CallID, "inviter_id", sess.InviterID, "err", err)
			}
			continue
		}
		sum.Reconciled++
	}

	if sum.TotalProcessed > 0 {
		logger.From(ctx).Info("deduction reconciliation sweep finished",
			"processed", sum.TotalProcessed, "reconciled", sum.Reconciled, "still_failed", sum.StillFailed)
	}
	return sum, nil
}

// MarkStaleMissed resolves calls stuck in initiated or ringing past the
// timeout, usually after a client crashed before reporting an outcome. They
// become missed with no charge.
func (r *Reconciler) MarkStaleMissed(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := r.clock().UTC().Add(-timeout)
	stale, err := r.repo.ListStale(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, sess := range stale {
		sessID := sess.CallID
		err := r.repo.WithTx(ctx, func(ctx context.Context) error {
			cur, err := r.repo.GetCallForUpdate(ctx, sessID)
			if err != nil {
				return err
			}
			if cur.State.Terminal() {
				return nil
			}
			now := r.clock().UTC()
			cur.PreviousState = cur.State
			cur.State = StateMissed
			cur.EndedAt = &now
			cur.WasConnected = false
			cur.DeductionStatus = DeductionNotApplicable
			recomputeTimings(&cur)
			cur.UpdatedAt = now
			if err := r.repo.UpdateCall(ctx, cur); err != nil {
				return err
			}
			swept++
			return nil
		})
		if err != nil {
			logger.From(ctx).Warn("stale call sweep failed", "call_id", sessID, "err", err)
		}
	}

	if swept > 0 {
		logger.From(ctx).Info("stale calls marked missed", "count", swept)
	}
	return swept, nil
}
