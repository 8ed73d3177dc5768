package contracts

import (
	"encoding/json"
	"time"
)

// RecordStatus is the lifecycle of one remote-call attempt.
type RecordStatus string

const (
	RecordPending RecordStatus = "PENDING"
	RecordSent    RecordStatus = "SENT"
	RecordSuccess RecordStatus = "SUCCESS"
	RecordError   RecordStatus = "ERROR"
)

// Terminal reports whether the status seals the attempt.
func (s RecordStatus) Terminal() bool {
	return s == RecordSuccess || s == RecordError
}

// SubmissionRecord is one entry of the per-voyage transaction ledger.
// A record is created PENDING and sealed exactly once with the attempt
// outcome; after sealing it is immutable. Corrections are always new
// records, never edits.
type SubmissionRecord struct {
	ID         string       `json:"id"`
	Sequence   uint64       `json:"sequence"`
	VoyageID   string       `json:"voyage_id"`
	Operation  Operation    `json:"operation"`
	ShipmentID string       `json:"shipment_id,omitempty"`
	Status     RecordStatus `json:"status"`

	// ExternalRef is the confirmation identifier assigned by the
	// remote authority on success.
	ExternalRef string          `json:"external_ref,omitempty"`
	Request     json.RawMessage `json:"request,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *RemoteError    `json:"error,omitempty"`

	// LinkedTitles lists the titles a RegistrarTitMicDta or
	// DesvincularTitMicDta attempt addressed.
	LinkedTitles []string `json:"linked_titles,omitempty"`

	// Watermark is set on the full-reset record. Readers ignore every
	// record older than the most recent watermark.
	Watermark bool `json:"watermark,omitempty"`
	// Justification stores the mandatory operator motive for
	// destructive operations.
	Justification string `json:"justification,omitempty"`
	ForceSend     bool   `json:"force_send,omitempty"`
	Notes         string `json:"notes,omitempty"`

	// Hash chain over the per-voyage ledger.
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SealedAt  *time.Time `json:"sealed_at,omitempty"`
}

// RemoteError is the structured failure a remote operation returned.
// Timeouts are reported with code "TIMEOUT".
type RemoteError struct {
	Code        string       `json:"code"`
	Message     string       `json:"message"`
	FieldErrors []FieldError `json:"field_errors,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}

// Timeout reports whether the failure was a transport timeout.
func (e *RemoteError) Timeout() bool {
	return e.Code == "TIMEOUT"
}

// FieldError is a remote validation error bound to one payload field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
