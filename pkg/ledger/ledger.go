// Package ledger implements the append-only transaction ledger of the
// submission gateway. Every remote-call attempt is a hash-chained
// SubmissionRecord; no record is ever deleted or edited. All
// higher-level state is a view computed over the window after the most
// recent full-reset watermark.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

var (
	ErrRecordNotFound = errors.New("ledger: record not found")
	ErrAlreadySealed  = errors.New("ledger: record already sealed")
	ErrChainBroken    = errors.New("ledger: hash chain is broken")
)

// Seal carries the outcome that completes a pending attempt record.
// Sealing happens exactly once per record; it completes the attempt,
// it does not correct it.
type Seal struct {
	Status      contracts.RecordStatus
	ExternalRef string
	Result      []byte
	Error       *contracts.RemoteError
}

// Filter narrows ledger queries. Zero values match everything.
type Filter struct {
	Operation contracts.Operation
	Status    contracts.RecordStatus
	Limit     int
	// AfterWatermark restricts results to the window after the most
	// recent full-reset record.
	AfterWatermark bool
}

// Ledger is the append-only store of submission attempts.
type Ledger interface {
	// Append stores a new record, assigning sequence, chain hash and
	// creation time. Returns the stored record.
	Append(ctx context.Context, rec *contracts.SubmissionRecord) (*contracts.SubmissionRecord, error)
	// SealRecord completes a pending record with its outcome.
	SealRecord(ctx context.Context, voyageID, recordID string, seal Seal) (*contracts.SubmissionRecord, error)
	// Query returns matching records for a voyage, newest first.
	Query(ctx context.Context, voyageID string, f Filter) ([]contracts.SubmissionRecord, error)
	// View computes the post-watermark window for a voyage once, so
	// callers can thread it through validation and status reads.
	View(ctx context.Context, voyageID string) (*View, error)
}

// View is the visible ledger window for one voyage: every record after
// (and including) the most recent watermark, oldest first.
type View struct {
	VoyageID string
	// WatermarkSeq is the sequence of the most recent full-reset
	// record, or zero when the voyage has never been reset.
	WatermarkSeq uint64
	Records      []contracts.SubmissionRecord
}

// Latest returns the most recent record for op in the window, or nil.
func (v *View) Latest(op contracts.Operation) *contracts.SubmissionRecord {
	for i := len(v.Records) - 1; i >= 0; i-- {
		if v.Records[i].Operation == op {
			return &v.Records[i]
		}
	}
	return nil
}

// LatestSuccess returns the most recent SUCCESS record for op, or nil.
// Dependency checks consult only the most recent record per operation,
// so an error after a success does not hide the success.
func (v *View) LatestSuccess(op contracts.Operation) *contracts.SubmissionRecord {
	for i := len(v.Records) - 1; i >= 0; i-- {
		if v.Records[i].Operation == op && v.Records[i].Status == contracts.RecordSuccess {
			return &v.Records[i]
		}
	}
	return nil
}

// LatestSuccessForShipment is LatestSuccess narrowed to one shipment.
func (v *View) LatestSuccessForShipment(op contracts.Operation, shipmentID string) *contracts.SubmissionRecord {
	for i := len(v.Records) - 1; i >= 0; i-- {
		r := &v.Records[i]
		if r.Operation == op && r.ShipmentID == shipmentID && r.Status == contracts.RecordSuccess {
			return r
		}
	}
	return nil
}

// Successes returns every SUCCESS record for op in the window, oldest
// first.
func (v *View) Successes(op contracts.Operation) []contracts.SubmissionRecord {
	var out []contracts.SubmissionRecord
	for _, r := range v.Records {
		if r.Operation == op && r.Status == contracts.RecordSuccess {
			out = append(out, r)
		}
	}
	return out
}

// Empty reports whether the window holds no records beyond the
// watermark marker itself.
func (v *View) Empty() bool {
	for _, r := range v.Records {
		if !r.Watermark {
			return false
		}
	}
	return true
}

// Clock is the time source hook shared by ledger backends; overridden
// in tests for deterministic sequences.
type Clock func() time.Time
