package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics. UserID narrows the
// summary to calls placed by one inviter; empty means platform-wide.

type CallsSummaryRequest struct {
	Range  TimeRange `json:"range"`
	UserID string    `json:"user_id,omitempty"`
}

type CallsSummary struct {
	UserID string `json:"user_id,omitempty"`

	TotalCalls    int `json:"total_calls"`
	EndedCalls    int `json:"ended_calls"`
	RejectedCalls int `json:"rejected_calls"`
	BusyCalls     int `json:"busy_calls"`
	CanceledCalls int `json:"canceled_calls"`
	MissedCalls   int `json:"missed_calls"`
	InFlightCalls int `json:"in_flight_calls"`

	ConnectedCalls int `json:"connected_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
	AverageRingMs          int64 `json:"average_ring_ms"`

	FailedDeductions int `json:"failed_deductions"`
}

// SpendSummaryRequest requests aggregated money movement derived from the
// immutable balance ledger.

type SpendSummaryRequest struct {
	Range  TimeRange `json:"range"`
	UserID string    `json:"user_id,omitempty"`
}

type SpendSummary struct {
	UserID string `json:"user_id,omitempty"`

	CallSpend      decimal.Decimal `json:"call_spend"`
	RewardsGranted decimal.Decimal `json:"rewards_granted"`
	InitialGrants  decimal.Decimal `json:"initial_grants"`
	ResetEntries   int             `json:"reset_entries"`

	NetDelta decimal.Decimal `json:"net_delta"`

	EntryCount int `json:"entry_count"`
}
