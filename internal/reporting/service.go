package reporting

import (
	"context"
	"errors"
	"time"

	"callcredits-platform/internal/billing"
	"callcredits-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Implementations should
// query immutable sources when possible (balance ledger, call sessions).
type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time, userID string) ([]calls.CallSession, error)
	ListLedger(ctx context.Context, from, to time.Time, userID string) ([]billing.LedgerEntry, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To, req.UserID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID}
	var ringTotal int64
	var ringCount int64
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.WasConnected {
			out.ConnectedCalls++
		}
		if c.DeductionStatus == calls.DeductionFailed {
			out.FailedDeductions++
		}
		if c.RingDurationMs > 0 {
			ringTotal += c.RingDurationMs
			ringCount++
		}
		switch c.State {
		case calls.StateEnded:
			out.EndedCalls++
		case calls.StateRejected:
			out.RejectedCalls++
		case calls.StateBusy:
			out.BusyCalls++
		case calls.StateCanceled:
			out.CanceledCalls++
		case calls.StateMissed:
			out.MissedCalls++
		case calls.StateInitiated, calls.StateRinging, calls.StateAccepted:
			out.InFlightCalls++
		}
	}
	if out.ConnectedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.ConnectedCalls
	}
	if ringCount > 0 {
		out.AverageRingMs = ringTotal / ringCount
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}

	entries, err := s.repo.ListLedger(ctx, req.Range.From, req.Range.To, req.UserID)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{UserID: req.UserID}
	for _, e := range entries {
		out.EntryCount++
		out.NetDelta = out.NetDelta.Add(e.Delta)
		switch e.Type {
		case billing.LedgerEntryTypeCallDeduction:
			out.CallSpend = out.CallSpend.Add(e.Delta.Neg())
		case billing.LedgerEntryTypeReferralReward:
			out.RewardsGranted = out.RewardsGranted.Add(e.Delta)
		case billing.LedgerEntryTypeInit:
			out.InitialGrants = out.InitialGrants.Add(e.Delta)
		case billing.LedgerEntryTypeReset:
			// Resets set an absolute base; the delta can run either way, so
			// only the count is meaningful.
			out.ResetEntries++
		}
	}
	return out, nil
}
