package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/litoral-labs/micdta/pkg/canonicalize"
	"github.com/litoral-labs/micdta/pkg/contracts"
)

// MemoryLedger is the in-process backend used by tests and sandbox
// deployments. Records are hash-chained per voyage at append time over
// their immutable creation fields; sealing completes the attempt
// outcome without touching the chain.
type MemoryLedger struct {
	mu      sync.RWMutex
	byID    map[string]*contracts.SubmissionRecord
	records map[string][]*contracts.SubmissionRecord // voyageID -> append order
	heads   map[string]string                        // voyageID -> chain head hash
	seqs    map[string]uint64
	samples map[string][]contracts.PositionSample
	clock   Clock
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byID:    make(map[string]*contracts.SubmissionRecord),
		records: make(map[string][]*contracts.SubmissionRecord),
		heads:   make(map[string]string),
		seqs:    make(map[string]uint64),
		samples: make(map[string][]contracts.PositionSample),
		clock:   time.Now,
	}
}

// WithClock overrides the time source for testing.
func (l *MemoryLedger) WithClock(clock Clock) *MemoryLedger {
	l.clock = clock
	return l
}

// chainedFields is the hashable representation of a record's immutable
// creation fields. Seal outcome fields are deliberately excluded: the
// chain is fixed at append time.
type chainedFields struct {
	ID         string              `json:"id"`
	Sequence   uint64              `json:"sequence"`
	VoyageID   string              `json:"voyage_id"`
	Operation  contracts.Operation `json:"operation"`
	ShipmentID string              `json:"shipment_id,omitempty"`
	Request    string              `json:"request,omitempty"`
	PrevHash   string              `json:"prev_hash"`
	CreatedAt  time.Time           `json:"created_at"`
}

func entryHash(r *contracts.SubmissionRecord) (string, error) {
	// The request body is canonicalized before hashing so the chain
	// survives whitespace-changing round trips (bundle export, SQL
	// storage as text).
	request := ""
	if len(r.Request) > 0 {
		canonical, err := canonicalize.JCS(r.Request)
		if err != nil {
			return "", err
		}
		request = string(canonical)
	}
	return canonicalize.CanonicalHash(chainedFields{
		ID:         r.ID,
		Sequence:   r.Sequence,
		VoyageID:   r.VoyageID,
		Operation:  r.Operation,
		ShipmentID: r.ShipmentID,
		Request:    request,
		PrevHash:   r.PrevHash,
		CreatedAt:  r.CreatedAt,
	})
}

func (l *MemoryLedger) Append(ctx context.Context, rec *contracts.SubmissionRecord) (*contracts.SubmissionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored := *rec
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.Status == "" {
		stored.Status = contracts.RecordPending
	}
	l.seqs[stored.VoyageID]++
	stored.Sequence = l.seqs[stored.VoyageID]
	// Microsecond precision: the finest every SQL backend round-trips.
	stored.CreatedAt = l.clock().UTC().Truncate(time.Microsecond)

	head, ok := l.heads[stored.VoyageID]
	if !ok {
		head = "genesis"
	}
	stored.PrevHash = head

	hash, err := entryHash(&stored)
	if err != nil {
		l.seqs[stored.VoyageID]--
		return nil, fmt.Errorf("ledger: hash entry: %w", err)
	}
	stored.EntryHash = hash

	l.byID[stored.ID] = &stored
	l.records[stored.VoyageID] = append(l.records[stored.VoyageID], &stored)
	l.heads[stored.VoyageID] = hash

	out := stored
	return &out, nil
}

func (l *MemoryLedger) SealRecord(ctx context.Context, voyageID, recordID string, seal Seal) (*contracts.SubmissionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[recordID]
	if !ok || rec.VoyageID != voyageID {
		return nil, ErrRecordNotFound
	}
	if rec.Status.Terminal() {
		return nil, ErrAlreadySealed
	}

	rec.Status = seal.Status
	rec.ExternalRef = seal.ExternalRef
	rec.Result = seal.Result
	rec.Error = seal.Error
	now := l.clock().UTC()
	rec.SealedAt = &now

	out := *rec
	return &out, nil
}

func (l *MemoryLedger) Query(ctx context.Context, voyageID string, f Filter) ([]contracts.SubmissionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.records[voyageID]
	var watermark uint64
	if f.AfterWatermark {
		watermark = latestWatermark(recs)
	}

	out := make([]contracts.SubmissionRecord, 0)
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		if r.Sequence < watermark {
			continue
		}
		if f.Operation != "" && r.Operation != f.Operation {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLedger) View(ctx context.Context, voyageID string) (*View, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.records[voyageID]
	watermark := latestWatermark(recs)

	view := &View{VoyageID: voyageID, WatermarkSeq: watermark}
	for _, r := range recs {
		if r.Sequence >= watermark {
			view.Records = append(view.Records, *r)
		}
	}
	return view, nil
}

// latestWatermark returns the sequence of the most recent successful
// full-reset record, or zero. A failed reset attempt does not hide
// history.
func latestWatermark(recs []*contracts.SubmissionRecord) uint64 {
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Watermark && recs[i].Status == contracts.RecordSuccess {
			return recs[i].Sequence
		}
	}
	return 0
}

// VerifyChain recomputes the per-voyage hash chain and reports the
// first inconsistency.
func (l *MemoryLedger) VerifyChain(voyageID string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := make([]contracts.SubmissionRecord, 0, len(l.records[voyageID]))
	for _, r := range l.records[voyageID] {
		records = append(records, *r)
	}
	return VerifyRecords(records)
}

// VerifyRecords recomputes the hash chain over records ordered oldest
// first and reports the first inconsistency. It works on any record
// slice, including one read back from an evidence bundle.
func VerifyRecords(records []contracts.SubmissionRecord) error {
	expectedPrev := "genesis"
	for i := range records {
		r := &records[i]
		if r.PrevHash != expectedPrev {
			return fmt.Errorf("%w: record %d has prev_hash %s, expected %s", ErrChainBroken, i, r.PrevHash, expectedPrev)
		}
		computed, err := entryHash(r)
		if err != nil {
			return fmt.Errorf("%w: record %d hash computation failed: %v", ErrChainBroken, i, err)
		}
		if computed != r.EntryHash {
			return fmt.Errorf("%w: record %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = r.EntryHash
	}
	return nil
}
