package calls

import "time"

// Event names reported by the mobile call SDK. The set is fixed; anything
// else is rejected before touching the call record.
const (
	EventOutgoingCallRinging      = "onOutgoingCallRinging"
	EventIncomingCallReceived     = "onIncomingCallReceived"
	EventIncomingCallAccepted     = "onIncomingCallAcceptButtonPressed"
	EventOutgoingCallAccepted     = "onOutgoingCallAccepted"
	EventIncomingCallDeclined     = "onIncomingCallDeclineButtonPressed"
	EventOutgoingCallDeclined     = "onOutgoingCallDeclined"
	EventOutgoingCallBusy         = "onOutgoingCallRejectedCauseBusy"
	EventOutgoingCallCanceled     = "onOutgoingCallCancelButtonPressed"
	EventOutgoingCallTimeout      = "onOutgoingCallTimeout"
	EventIncomingCallTimeout      = "onIncomingCallTimeout"
	EventCallEnd                  = "onCallEnd"
	EventHangUp                   = "onHangUp"
)

type timestampField int

const (
	stampNone timestampField = iota
	stampRinging
	stampAccepted
	stampRejected
	stampEnded
)

type transition struct {
	target State
	stamp  timestampField
}

// eventTransitions maps each SDK event to a target state and the timestamp it
// populates. Timestamps are written only if still unset, which is what makes
// duplicate delivery of the same event a timing no-op.
var eventTransitions = map[string]transition{
	EventOutgoingCallRinging:  {target: StateRinging, stamp: stampRinging},
	EventIncomingCallReceived: {target: StateRinging, stamp: stampRinging},

	EventIncomingCallAccepted: {target: StateAccepted, stamp: stampAccepted},
	EventOutgoingCallAccepted: {target: StateAccepted, stamp: stampAccepted},

	EventIncomingCallDeclined: {target: StateRejected, stamp: stampRejected},
	EventOutgoingCallDeclined: {target: StateRejected, stamp: stampRejected},

	EventOutgoingCallBusy:     {target: StateBusy},
	EventOutgoingCallCanceled: {target: StateCanceled},

	EventOutgoingCallTimeout: {target: StateMissed},
	EventIncomingCallTimeout: {target: StateMissed},

	EventCallEnd: {target: StateEnded, stamp: stampEnded},
	EventHangUp:  {target: StateEnded, stamp: stampEnded},
}

func lookupTransition(eventName string) (transition, bool) {
	tr, ok := eventTransitions[eventName]
	return tr, ok
}

// isEndEvent reports whether the event closes the call and therefore triggers
// the billing decision.
func isEndEvent(eventName string) bool {
	return eventName == EventCallEnd || eventName == EventHangUp
}

// applyStamp sets the mapped timestamp if it is still unset.
func applyStamp(s *CallSession, f timestampField, now time.Time) {
	switch f {
	case stampRinging:
		if s.RingingAt == nil {
			t := now
			s.RingingAt = &t
		}
	case stampAccepted:
		if s.AcceptedAt == nil {
			t := now
			s.AcceptedAt = &t
		}
	case stampRejected:
		if s.RejectedAt == nil {
			t := now
			s.RejectedAt = &t
		}
	case stampEnded:
		if s.EndedAt == nil {
			t := now
			s.EndedAt = &t
		}
	}
}

// recomputeTimings derives the analytics fields from whichever timestamps are
// populated. Safe to call repeatedly; it never writes timestamps.
func recomputeTimings(s *CallSession) {
	if s.AcceptedAt != nil && s.EndedAt != nil {
		if d := s.EndedAt.Sub(*s.AcceptedAt); d > 0 {
			s.DurationSeconds = int(d / time.Second)
		}
	}

	// Ring duration: ring start until the call was answered or resolved.
	if s.RingingAt != nil {
		if end := firstSet(s.AcceptedAt, s.RejectedAt, s.EndedAt); end != nil {
			if d := end.Sub(*s.RingingAt); d > 0 {
				s.RingDurationMs = d.Milliseconds()
			}
		}
	}

	// Response time: initiation until the callee answered or declined.
	if end := firstSet(s.AcceptedAt, s.RejectedAt); end != nil {
		if d := end.Sub(s.InitiatedAt); d > 0 {
			s.ResponseTimeMs = d.Milliseconds()
		}
	}
}

func firstSet(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil {
			return t
		}
	}
	return nil
}
