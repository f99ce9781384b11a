package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callcredits-platform/internal/billing"
	"callcredits-platform/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository is the persistence contract for call sessions and their event
// log. Methods documented as tx-only rely on the row lock WithTx provides.
type Repository interface {
	// WithTx runs fn as one atomic unit. Nested units join the enclosing one.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// GetCallForUpdate locks the session row. tx-only. ErrNotFound when absent.
	GetCallForUpdate(ctx context.Context, callID string) (CallSession, error)

	// CreateCall inserts the row, silently doing nothing when the call_id
	// already exists (concurrent creators resolve to the same row). tx-only.
	CreateCall(ctx context.Context, s CallSession) error

	// UpdateCall persists the session. tx-only.
	UpdateCall(ctx context.Context, s CallSession) error

	GetCall(ctx context.Context, callID string) (CallSession, error)

	// ListFailedDeductions returns connected calls whose debit failed.
	ListFailedDeductions(ctx context.Context, limit int) ([]CallSession, error)

	// ListStale returns non-resolved calls initiated before the cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]CallSession, error)

	// AppendEvent writes a forensic log row. Always best-effort, never part
	// of a unit of work.
	AppendEvent(ctx context.Context, e EventLogEntry) error

	ListEvents(ctx context.Context, callID string, limit int) ([]EventLogEntry, error)
}

// Ledger is the slice of the billing service the state machine consumes.
type Ledger interface {
	GetOrCreateBalance(ctx context.Context, userID string) (billing.UserBalance, error)
	DeductCallCost(ctx context.Context, userID string, cost decimal.Decimal, callRef string) (billing.UserBalance, billing.DeductionSplit, error)
}

// SettingsProvider supplies the fixed per-call charge.
type SettingsProvider interface {
	CallCost(ctx context.Context) decimal.Decimal
}

var (
	ErrUnknownEvent   = errors.New("calls: unknown event name")
	ErrInvalidPayload = errors.New("calls: invalid payload")
	ErrSelfCall       = errors.New("calls: inviter and invitee must differ")
	ErrNotFound       = errors.New("calls: not found")
)

// Service is the call session state machine.
//
// Concurrency: events for one call_id serialize on the session row lock;
// events for different call_ids proceed independently. "Last writer under
// the lock" wins for state.
type Service struct {
	repo     Repository
	ledger   Ledger
	settings SettingsProvider

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, ledger Ledger, settings SettingsProvider) *Service {
	return &Service{repo: repo, ledger: ledger, settings: settings, clock: time.Now}
}

// HandleEvent ingests one externally-reported call event: it resolves or
// creates the session under a row lock, applies the mapped transition and
// timestamp, recomputes timing analytics, and on end-of-call events runs the
// billing decision inside the same unit of work.
//
// A billing failure never aborts the transition; it degrades to
// deduction_status=failed and is repaired later by reconciliation.
func (s *Service) HandleEvent(ctx context.Context, actingUserID, eventName string, payload map[string]any) (CallSession, error) {
	tr, ok := lookupTransition(eventName)
	if !ok {
		return CallSession{}, fmt.Errorf("%w: %q", ErrUnknownEvent, eventName)
	}

	callID := payloadString(payload, "call_id")
	if callID == "" {
		return CallSession{}, fmt.Errorf("%w: call_id is required", ErrInvalidPayload)
	}

	now := s.clock().UTC()
	var out CallSession

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		sess, err := s.repo.GetCallForUpdate(ctx, callID)
		if errors.Is(err, ErrNotFound) {
			sess, err = s.createSession(ctx, actingUserID, callID, payload, now)
		}
		if err != nil {
			return err
		}

		if !sess.State.Terminal() {
			applyStamp(&sess, tr.stamp, now)
			sess.PreviousState = sess.State
			sess.State = tr.target
			recomputeTimings(&sess)

			if isEndEvent(eventName) {
				s.settleBilling(ctx, &sess)
			} else if sess.State.Terminal() && sess.DeductionStatus == DeductionPending {
				// Rejected, busy, canceled and missed calls never connected;
				// nothing to bill.
				sess.WasConnected = false
				sess.DeductionStatus = DeductionNotApplicable
			}
		} else {
			// Terminal states are final; late events are logged below but do
			// not change the session.
			recomputeTimings(&sess)
		}

		sess.UpdatedAt = now
		if err := s.repo.UpdateCall(ctx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return CallSession{}, err
	}

	// Forensic log only. The write error is intentionally discarded: logging
	// must never affect the outcome of a call state update.
	if logErr := s.appendEventLog(ctx, actingUserID, eventName, callID, payload, now); logErr != nil {
		logger.From(ctx).Warn("call event log write failed", "call_id", callID, "event", eventName, "err", logErr)
	}

	return out, nil
}

// GetCall returns a session by id.
func (s *Service) GetCall(ctx context.Context, callID string) (CallSession, error) {
	if callID == "" {
		return CallSession{}, fmt.Errorf("%w: call_id is required", ErrInvalidPayload)
	}
	return s.repo.GetCall(ctx, callID)
}

// ListEvents returns the forensic log for a call, newest first.
func (s *Service) ListEvents(ctx context.Context, callID string, limit int) ([]EventLogEntry, error) {
	if callID == "" {
		return nil, fmt.Errorf("%w: call_id is required", ErrInvalidPayload)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListEvents(ctx, callID, limit)
}

// createSession validates first-event payload fields and inserts the row.
// The inviter's balance must cover the call cost or the call is refused
// before any record exists.
func (s *Service) createSession(ctx context.Context, actingUserID, callID string, payload map[string]any, now time.Time) (CallSession, error) {
	inviterID := payloadString(payload, "inviter_id")
	if inviterID == "" {
		inviterID = actingUserID
	}
	inviteeID := payloadString(payload, "invitee_id")
	if inviterID == "" || inviteeID == "" {
		return CallSession{}, fmt.Errorf("%w: inviter_id and invitee_id are required for a new call", ErrInvalidPayload)
	}
	if inviterID == inviteeID {
		return CallSession{}, ErrSelfCall
	}

	callType := CallType(payloadString(payload, "type"))
	if callType == "" {
		callType = CallTypeAudio
	}
	if !callType.valid() {
		return CallSession{}, fmt.Errorf("%w: call type %q", ErrInvalidPayload, callType)
	}

	cost := s.settings.CallCost(ctx)
	bal, err := s.ledger.GetOrCreateBalance(ctx, inviterID)
	if err != nil {
		return CallSession{}, err
	}
	if bal.Total().LessThan(cost) {
		return CallSession{}, fmt.Errorf("%w: need %s, have %s", billing.ErrInsufficientBalance, cost, bal.Total())
	}

	sess := CallSession{
		CallID:          callID,
		InviterID:       inviterID,
		InviteeID:       inviteeID,
		CallType:        callType,
		State:           StateInitiated,
		PreviousState:   StateInitiated,
		InitiatedAt:     now,
		CallCost:        cost,
		DeductionStatus: DeductionPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateCall(ctx, sess); err != nil {
		return CallSession{}, err
	}
	// Re-read under the lock: a concurrent creator may have won the insert.
	return s.repo.GetCallForUpdate(ctx, sess.CallID)
}

// settleBilling runs the end-of-call billing decision. Billable means
// accepted and ended with positive duration. The debit joins the session's
// unit of work; its failure is recorded on the session, never propagated.
func (s *Service) settleBilling(ctx context.Context, sess *CallSession) {
	if sess.DeductionStatus != DeductionPending {
		return
	}

	if sess.AcceptedAt == nil || sess.DurationSeconds <= 0 {
		sess.WasConnected = false
		sess.DeductionStatus = DeductionNotApplicable
		return
	}
	sess.WasConnected = true

	_, split, err := s.ledger.DeductCallCost(ctx, sess.InviterID, sess.CallCost, "")
	if err != nil {
		sess.DeductionStatus = DeductionFailed
		logger.From(ctx).Warn("call deduction failed, left for reconciliation",
			"call_id", sess.CallID,
			"inviter_id", sess.InviterID,
			"cost", sess.CallCost.String(),
			"err", err,
		)
		return
	}
	sess.DeductedFromBonus = split.FromBonus
	sess.DeductedFromBase = split.FromBase
	sess.DeductionStatus = DeductionCompleted
}

func (s *Service) appendEventLog(ctx context.Context, actingUserID, eventName, callID string, payload map[string]any, now time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return s.repo.AppendEvent(ctx, EventLogEntry{
		ID:          uuid.NewString(),
		CallID:      callID,
		EventType:   eventName,
		Payload:     string(raw),
		TriggeredBy: actingUserID,
		IPAddress:   payloadString(payload, "ip_address"),
		CreatedAt:   now,
	})
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
