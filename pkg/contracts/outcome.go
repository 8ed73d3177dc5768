package contracts

import (
	"errors"
	"fmt"
	"time"
)

// Outcome statuses for one execute call.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "SUCCESS"
	OutcomeBlocked OutcomeStatus = "BLOCKED"
	OutcomeFailed  OutcomeStatus = "FAILED"
	OutcomeRefused OutcomeStatus = "REFUSED" // already sent, no ForceSend
)

// Outcome is the structured result of a submission attempt. It always
// carries enough detail to drive a UI without re-querying.
type Outcome struct {
	VoyageID    string        `json:"voyage_id"`
	Operation   Operation     `json:"operation"`
	Status      OutcomeStatus `json:"status"`
	RecordID    string        `json:"record_id,omitempty"`
	ExternalRef string        `json:"external_ref,omitempty"`
	Tracks      []Track       `json:"tracks,omitempty"`
	Error       *RemoteError  `json:"error,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Warnings    []string      `json:"warnings,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Error taxonomy. ValidationBlocked and AlreadySent never reach the
// remote interface; RemoteFailure (including timeouts) is recorded in
// the ledger before being surfaced.
var (
	ErrVoyageNotFound     = errors.New("voyage not found")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrIrrecoverableState = errors.New("pipeline has no valid next step; full reset required")
)

// BlockedError is a dependency precondition failure. It is surfaced
// immediately and never persisted as a ledger record.
type BlockedError struct {
	Operation Operation
	Reason    string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("operation %s blocked: %s", e.Operation, e.Reason)
}

// AlreadySentError is raised when a mutating operation already has a
// post-watermark success record and ForceSend was not supplied.
type AlreadySentError struct {
	Operation Operation
	RecordID  string
	SentAt    time.Time
}

func (e *AlreadySentError) Error() string {
	return fmt.Sprintf("operation %s already sent (record %s); supply force_send to resend", e.Operation, e.RecordID)
}
