package calls

import (
	"time"

	"github.com/shopspring/decimal"
)

// CallSession is one voice/video call between two users, keyed by the
// externally assigned call_id. Exactly one row exists per call_id; all
// operations are idempotent on that key.
//
// Participants are immutable after first creation. Money bookkeeping
// (deducted_from_*/deduction_status) is written by the billing service inside
// the same unit of work as the debit; state and timestamps are written only
// by the state machine in this package.
type CallSession struct {
	CallID string `json:"call_id" db:"call_id"`

	InviterID string `json:"inviter_id" db:"inviter_id"`
	InviteeID string `json:"invitee_id" db:"invitee_id"`

	CallType CallType `json:"call_type" db:"call_type"`

	State State `json:"state" db:"state"`
	// PreviousState is the state immediately prior to State, for audit.
	PreviousState State `json:"previous_state" db:"previous_state"`

	// Each timestamp is set at most once, by the first event that maps to it.
	InitiatedAt time.Time  `json:"initiated_at" db:"initiated_at"`
	RingingAt   *time.Time `json:"ringing_at,omitempty" db:"ringing_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// Derived; recomputed on every persist from whichever timestamps are set.
	DurationSeconds int   `json:"duration_seconds" db:"duration_seconds"`
	RingDurationMs  int64 `json:"ring_duration_ms" db:"ring_duration_ms"`
	ResponseTimeMs  int64 `json:"response_time_ms" db:"response_time_ms"`

	// WasConnected is true only when the call was accepted and later ended
	// with positive duration.
	WasConnected bool `json:"was_connected" db:"was_connected"`

	CallCost          decimal.Decimal `json:"call_cost" db:"call_cost"`
	DeductedFromBonus decimal.Decimal `json:"deducted_from_bonus" db:"deducted_from_bonus"`
	DeductedFromBase  decimal.Decimal `json:"deducted_from_base" db:"deducted_from_base"`

	DeductionStatus DeductionStatus `json:"deduction_status" db:"deduction_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) valid() bool { return t == CallTypeAudio || t == CallTypeVideo }

type State string

const (
	StateInitiated State = "initiated"
	StateRinging   State = "ringing"
	StateAccepted  State = "accepted"
	StateRejected  State = "rejected"
	StateBusy      State = "busy"
	StateCanceled  State = "canceled"
	StateMissed    State = "missed"
	StateEnded     State = "ended"
	StateFailed    State = "failed"
)

// Terminal reports whether no further state change is applied once reached.
// Events arriving after a terminal state are still logged.
func (s State) Terminal() bool {
	switch s {
	case StateEnded, StateRejected, StateBusy, StateCanceled, StateMissed, StateFailed:
		return true
	default:
		return false
	}
}

type DeductionStatus string

const (
	DeductionPending       DeductionStatus = "pending"
	DeductionCompleted     DeductionStatus = "completed"
	DeductionFailed        DeductionStatus = "failed"
	DeductionNotApplicable DeductionStatus = "not_applicable"
)

// EventLogEntry is an immutable, append-only forensic record: one row per
// accepted event. Never updated or deleted; writes are best-effort and must
// never affect the state update they describe.
type EventLogEntry struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	EventType string `json:"event_type" db:"event_type"`

	// Payload is the raw event payload as JSON, for debugging.
	Payload string `json:"payload,omitempty" db:"payload"`

	// TriggeredBy is the acting user reported by the ingress layer.
	TriggeredBy string `json:"triggered_by,omitempty" db:"triggered_by"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
