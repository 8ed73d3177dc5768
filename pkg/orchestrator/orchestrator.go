// Package orchestrator drives the submission lifecycle: validate the
// requested operation against the ledger window, persist a pending
// attempt, invoke the authority, and seal the attempt with its outcome.
// Dependency checks that fail never reach the ledger; remote failures
// always do.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/litoral-labs/micdta/pkg/audit"
	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/observability"
	"github.com/litoral-labs/micdta/pkg/remote"
	"github.com/litoral-labs/micdta/pkg/tracks"
	"github.com/litoral-labs/micdta/pkg/validate"
)

// DefaultTimeout bounds one authority round trip.
const DefaultTimeout = 30 * time.Second

// ErrOperationInFlight is returned when a mutating operation is
// requested while another one is still running for the same voyage.
var ErrOperationInFlight = errors.New("orchestrator: another operation is in flight for this voyage")

// Options carries the caller-supplied parameters of one execute call.
type Options struct {
	// ShipmentID targets one shipment for shipment-scoped operations.
	// When the voyage has exactly one shipment it may be left empty.
	ShipmentID string
	// Titles targets specific transport titles (link, unlink, annul).
	Titles []string
	// AnularTodos requests the voyage-wide full reset variant of
	// AnularEnvios.
	AnularTodos bool
	// Justification is the operator motive, mandatory for the full
	// reset.
	Justification string
	// ForceSend overrides the already-sent refusal.
	ForceSend bool
	// Notes is a free-form operator annotation stored on the record.
	Notes string
	// Payload merges extra fields into the request body sent to the
	// authority. Caller fields win over derived ones.
	Payload map[string]interface{}
}

// Orchestrator executes customs operations for voyages.
type Orchestrator struct {
	voyages  contracts.VoyageSource
	ledger   ledger.Ledger
	client   remote.Client
	registry *tracks.Registry
	auditor  audit.Logger
	obs      *observability.Provider
	logger   *slog.Logger
	timeout  time.Duration
	clock    func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout overrides the per-invocation authority timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClock injects a deterministic clock. Used in tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithObservability attaches an OTel provider.
func WithObservability(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.obs = p }
}

// WithAudit attaches an audit logger.
func WithAudit(l audit.Logger) Option {
	return func(o *Orchestrator) { o.auditor = l }
}

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator over the given voyage source, ledger and
// authority client.
func New(voyages contracts.VoyageSource, lg ledger.Ledger, client remote.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		voyages:  voyages,
		ledger:   lg,
		client:   client,
		registry: tracks.NewRegistry(),
		auditor:  audit.Nop(),
		logger:   slog.Default().With("component", "orchestrator"),
		timeout:  DefaultTimeout,
		clock:    time.Now,
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Tracks returns the derived track registry.
func (o *Orchestrator) Tracks() *tracks.Registry {
	return o.registry
}

// Execute runs one operation for a voyage end to end. The returned
// Outcome is non-nil whenever the voyage and operation resolve; the
// error mirrors the outcome status for callers that prefer errors.
func (o *Orchestrator) Execute(ctx context.Context, voyageID string, op contracts.Operation, opts Options) (*contracts.Outcome, error) {
	spec, ok := op.Spec()
	if !ok {
		return nil, fmt.Errorf("%w: %q", contracts.ErrUnknownOperation, op)
	}

	voyage, err := o.voyages.Voyage(voyageID)
	if err != nil {
		return nil, fmt.Errorf("load voyage %s: %w", voyageID, err)
	}
	if voyage == nil {
		return nil, fmt.Errorf("%w: %s", contracts.ErrVoyageNotFound, voyageID)
	}

	// A single-shipment voyage needs no explicit target.
	if spec.Scope == contracts.ScopeShipment && opts.ShipmentID == "" && len(voyage.Shipments) == 1 {
		opts.ShipmentID = voyage.Shipments[0].ID
	}
	// Title-scoped operations act on the shipment owning the titles;
	// the record carries it so downstream views stay scoped to that
	// shipment.
	if spec.Scope == contracts.ScopeTitle && opts.ShipmentID == "" {
		opts.ShipmentID = shipmentOwningTitles(voyage, opts.Titles)
	}

	ctx, done := o.track(ctx, voyageID, op)
	outcome, err := o.execute(ctx, voyage, op, spec, opts)
	done(err)
	return outcome, err
}

func (o *Orchestrator) execute(ctx context.Context, voyage *contracts.Voyage, op contracts.Operation, spec contracts.OperationSpec, opts Options) (*contracts.Outcome, error) {
	if spec.Mutating {
		if !o.acquire(voyage.ID) {
			return nil, ErrOperationInFlight
		}
		defer o.release(voyage.ID)
	}

	view, err := o.ledger.View(ctx, voyage.ID)
	if err != nil {
		return nil, fmt.Errorf("ledger view: %w", err)
	}

	req := validate.Request{
		ShipmentID:    opts.ShipmentID,
		Titles:        opts.Titles,
		AnularTodos:   opts.AnularTodos,
		Justification: opts.Justification,
	}
	if decision := validate.Check(voyage, op, req, view); !decision.Allowed {
		o.logger.WarnContext(ctx, "operation blocked",
			"voyage", voyage.ID, "operation", op, "reason", decision.Reason)
		blocked := &contracts.BlockedError{Operation: op, Reason: decision.Reason}
		return o.outcome(voyage.ID, op, contracts.OutcomeBlocked, func(out *contracts.Outcome) {
			out.Reason = decision.Reason
		}), blocked
	}

	if spec.Mutating && !spec.Idempotent && !opts.ForceSend {
		if prior := o.priorSuccess(view, op, spec, opts); prior != nil {
			refusal := &contracts.AlreadySentError{Operation: op, RecordID: prior.ID, SentAt: prior.CreatedAt}
			return o.outcome(voyage.ID, op, contracts.OutcomeRefused, func(out *contracts.Outcome) {
				out.RecordID = prior.ID
				out.ExternalRef = prior.ExternalRef
				out.Reason = refusal.Error()
			}), refusal
		}
	}

	payload := BuildPayload(voyage, op, opts)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	rec, err := o.ledger.Append(ctx, &contracts.SubmissionRecord{
		VoyageID:      voyage.ID,
		Operation:     op,
		ShipmentID:    opts.ShipmentID,
		Status:        contracts.RecordPending,
		Request:       body,
		LinkedTitles:  opts.Titles,
		Watermark:     spec.Watermark && opts.AnularTodos,
		Justification: opts.Justification,
		ForceSend:     opts.ForceSend,
		Notes:         opts.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("append attempt: %w", err)
	}

	if spec.Mutating {
		o.auditAttempt(ctx, voyage.ID, op, spec, rec, opts)
	}

	res, invokeErr := o.invoke(ctx, op, payload)
	if invokeErr != nil {
		remoteErr := asRemoteError(invokeErr)
		if _, sealErr := o.ledger.SealRecord(ctx, voyage.ID, rec.ID, ledger.Seal{
			Status: contracts.RecordError,
			Error:  remoteErr,
		}); sealErr != nil {
			return nil, fmt.Errorf("seal failed attempt: %w", sealErr)
		}
		o.logger.ErrorContext(ctx, "operation failed",
			"voyage", voyage.ID, "operation", op, "record", rec.ID,
			"code", remoteErr.Code, "error", remoteErr.Message)
		return o.outcome(voyage.ID, op, contracts.OutcomeFailed, func(out *contracts.Outcome) {
			out.RecordID = rec.ID
			out.Error = remoteErr
		}), remoteErr
	}

	if _, err := o.ledger.SealRecord(ctx, voyage.ID, rec.ID, ledger.Seal{
		Status:      contracts.RecordSuccess,
		ExternalRef: res.ExternalRef,
		Result:      res.Payload,
	}); err != nil {
		return nil, fmt.Errorf("seal attempt: %w", err)
	}

	fresh, err := o.ledger.View(ctx, voyage.ID)
	if err != nil {
		return nil, fmt.Errorf("refresh view: %w", err)
	}
	o.registry.Rebuild(fresh)

	o.logger.InfoContext(ctx, "operation succeeded",
		"voyage", voyage.ID, "operation", op, "record", rec.ID,
		"external_ref", res.ExternalRef)

	return o.outcome(voyage.ID, op, contracts.OutcomeSuccess, func(out *contracts.Outcome) {
		out.RecordID = rec.ID
		out.ExternalRef = res.ExternalRef
		out.Warnings = res.Warnings
		out.Tracks = o.registry.TracksFor(voyage.ID)
	}), nil
}

// Preview builds the exact request body Execute would send, without
// validating, persisting or invoking anything.
func (o *Orchestrator) Preview(voyageID string, op contracts.Operation, opts Options) (json.RawMessage, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %q", contracts.ErrUnknownOperation, op)
	}
	voyage, err := o.voyages.Voyage(voyageID)
	if err != nil {
		return nil, fmt.Errorf("load voyage %s: %w", voyageID, err)
	}
	if voyage == nil {
		return nil, fmt.Errorf("%w: %s", contracts.ErrVoyageNotFound, voyageID)
	}
	spec, _ := op.Spec()
	if spec.Scope == contracts.ScopeShipment && opts.ShipmentID == "" && len(voyage.Shipments) == 1 {
		opts.ShipmentID = voyage.Shipments[0].ID
	}
	if spec.Scope == contracts.ScopeTitle && opts.ShipmentID == "" {
		opts.ShipmentID = shipmentOwningTitles(voyage, opts.Titles)
	}
	return json.Marshal(BuildPayload(voyage, op, opts))
}

func (o *Orchestrator) invoke(ctx context.Context, op contracts.Operation, payload map[string]interface{}) (*remote.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.client.Invoke(ctx, op, payload)
}

func (o *Orchestrator) priorSuccess(view *ledger.View, op contracts.Operation, spec contracts.OperationSpec, opts Options) *contracts.SubmissionRecord {
	switch spec.Scope {
	case contracts.ScopeShipment:
		return view.LatestSuccessForShipment(op, opts.ShipmentID)
	case contracts.ScopeTitle:
		return latestSuccessForTitles(view, op, opts.Titles)
	default:
		return view.LatestSuccess(op)
	}
}

// latestSuccessForTitles finds the newest success of op that named any
// of the given titles. Title-scoped resends are refused per title, not
// per voyage.
func latestSuccessForTitles(view *ledger.View, op contracts.Operation, titles []string) *contracts.SubmissionRecord {
	recs := view.Successes(op)
	for i := len(recs) - 1; i >= 0; i-- {
		for _, title := range recs[i].LinkedTitles {
			if slices.Contains(titles, title) {
				return &recs[i]
			}
		}
	}
	return nil
}

// shipmentOwningTitles resolves which shipment of the voyage carries
// any of the given titles. Empty when none match.
func shipmentOwningTitles(v *contracts.Voyage, titles []string) string {
	for i := range v.Shipments {
		for _, title := range titles {
			if slices.Contains(v.Shipments[i].Titles, title) {
				return v.Shipments[i].ID
			}
		}
	}
	return ""
}

func (o *Orchestrator) auditAttempt(ctx context.Context, voyageID string, op contracts.Operation, spec contracts.OperationSpec, rec *contracts.SubmissionRecord, opts Options) {
	eventType := audit.EventSubmission
	if spec.Family == contracts.FamilyAnnulment {
		eventType = audit.EventAnnulment
	}
	meta := map[string]interface{}{"record_id": rec.ID, "sequence": rec.Sequence}
	if opts.ShipmentID != "" {
		meta["shipment_id"] = opts.ShipmentID
	}
	if rec.Watermark {
		meta["full_reset"] = true
	}
	if opts.ForceSend {
		meta["force_send"] = true
	}
	if err := o.auditor.Record(ctx, eventType, string(op), voyageID, meta); err != nil {
		o.logger.ErrorContext(ctx, "audit record failed", "voyage", voyageID, "error", err)
	}
}

func (o *Orchestrator) track(ctx context.Context, voyageID string, op contracts.Operation) (context.Context, func(error)) {
	if o.obs == nil {
		return ctx, func(error) {}
	}
	return o.obs.TrackSubmission(ctx, string(op),
		attribute.String("voyage.id", voyageID),
	)
}

func (o *Orchestrator) outcome(voyageID string, op contracts.Operation, status contracts.OutcomeStatus, fill func(*contracts.Outcome)) *contracts.Outcome {
	out := &contracts.Outcome{
		VoyageID:    voyageID,
		Operation:   op,
		Status:      status,
		CompletedAt: o.clock().UTC(),
	}
	if fill != nil {
		fill(out)
	}
	return out
}

func (o *Orchestrator) acquire(voyageID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[voyageID] {
		return false
	}
	o.inFlight[voyageID] = true
	return true
}

func (o *Orchestrator) release(voyageID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, voyageID)
}

// asRemoteError normalizes any invocation failure into the structured
// error stored on the record. Deadline expiry maps to code TIMEOUT so
// operators can tell "the authority said no" from "the authority never
// answered".
func asRemoteError(err error) *contracts.RemoteError {
	var remoteErr *contracts.RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &contracts.RemoteError{Code: "TIMEOUT", Message: "authority did not answer within the configured timeout"}
	}
	if errors.Is(err, context.Canceled) {
		return &contracts.RemoteError{Code: "CANCELLED", Message: "invocation cancelled before completion"}
	}
	return &contracts.RemoteError{Code: "TRANSPORT", Message: err.Error()}
}
