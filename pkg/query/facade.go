// Package query is the read side of the gateway: voyage status derived
// from the ledger window, validation previews, payload previews,
// activity history, tracks and position history. Nothing here mutates
// anything.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/geofence"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/orchestrator"
	"github.com/litoral-labs/micdta/pkg/tracks"
	"github.com/litoral-labs/micdta/pkg/validate"
)

// Stage is the pipeline position derived from the ledger window. It is
// never stored; replaying the window always reproduces it.
type Stage string

const (
	StageNotStarted         Stage = "NOT_STARTED"
	StageTitlesRegistered   Stage = "TITLES_REGISTERED"
	StageEnviosRegistered   Stage = "ENVIOS_REGISTERED"
	StageMicDtaRegistered   Stage = "MICDTA_REGISTERED"
	StageZonePrimariaExited Stage = "ZONE_PRIMARIA_EXITED"
	StageArrived            Stage = "ARRIVED"
)

// Status is the full read model for one voyage. CanSend and
// LastSentAt are included so the operator UI never has to follow up
// with a validation call just to enable its send button.
type Status struct {
	VoyageID           string                       `json:"voyage_id"`
	Stage              Stage                        `json:"stage"`
	CanSend            bool                         `json:"can_send"`
	LastSentAt         *time.Time                   `json:"last_sent_at,omitempty"`
	MicDtaRef          string                       `json:"micdta_ref,omitempty"`
	Convoy             bool                         `json:"convoy"`
	AnnulmentRequested bool                         `json:"annulment_requested"`
	MicDtaAnnulled     bool                         `json:"micdta_annulled"`
	Attempts           int                          `json:"attempts"`
	LastError          *contracts.RemoteError       `json:"last_error,omitempty"`
	Tracks             []contracts.Track            `json:"tracks,omitempty"`
	WatermarkSeq       uint64                       `json:"watermark_seq,omitempty"`
	Records            []contracts.SubmissionRecord `json:"-"`
}

// Facade answers read-only questions about voyages.
type Facade struct {
	voyages contracts.VoyageSource
	ledger  ledger.Ledger
	exec    *orchestrator.Orchestrator
	engine  *geofence.Engine
}

// NewFacade creates the read facade. engine may be nil when position
// tracking is disabled.
func NewFacade(voyages contracts.VoyageSource, lg ledger.Ledger, exec *orchestrator.Orchestrator, engine *geofence.Engine) *Facade {
	return &Facade{voyages: voyages, ledger: lg, exec: exec, engine: engine}
}

// Status derives the pipeline stage for a voyage from its post-reset
// ledger window.
func (f *Facade) Status(ctx context.Context, voyageID string) (*Status, error) {
	voyage, view, err := f.load(ctx, voyageID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		VoyageID:     voyageID,
		Stage:        deriveStage(view),
		CanSend:      validate.Review(voyage, view).CanProcess,
		LastSentAt:   lastSentAt(view),
		Convoy:       voyage.IsConvoy(),
		Attempts:     len(view.Records),
		Tracks:       tracks.Derive(view),
		WatermarkSeq: view.WatermarkSeq,
		Records:      view.Records,
	}

	if mic := view.LatestSuccess(contracts.OpRegistrarMicDta); mic != nil {
		st.MicDtaRef = mic.ExternalRef
	}
	if view.LatestSuccess(contracts.OpSolicitarAnularMicDta) != nil {
		st.AnnulmentRequested = true
	}
	if view.LatestSuccess(contracts.OpAnularMicDta) != nil {
		st.MicDtaAnnulled = true
	}
	for i := len(view.Records) - 1; i >= 0; i-- {
		if view.Records[i].Status == contracts.RecordError {
			st.LastError = view.Records[i].Error
			break
		}
	}
	return st, nil
}

// lastSentAt is the moment the newest sealed attempt reached the
// authority. Pending attempts have not gone out yet and do not count.
func lastSentAt(view *ledger.View) *time.Time {
	for i := len(view.Records) - 1; i >= 0; i-- {
		rec := &view.Records[i]
		if rec.Status == contracts.RecordPending {
			continue
		}
		at := rec.CreatedAt
		if rec.SealedAt != nil {
			at = *rec.SealedAt
		}
		return &at
	}
	return nil
}

// deriveStage folds the window into the coarse pipeline position.
// Later stages win; annulment of the MIC/DTA falls back before it.
func deriveStage(view *ledger.View) Stage {
	micAnnulled := view.LatestSuccess(contracts.OpAnularMicDta) != nil

	switch {
	case view.LatestSuccess(contracts.OpRegistrarArriboZonaPrimaria) != nil && !micAnnulled:
		return StageArrived
	case view.LatestSuccess(contracts.OpRegistrarSalidaZonaPrimaria) != nil && !micAnnulled:
		return StageZonePrimariaExited
	case view.LatestSuccess(contracts.OpRegistrarMicDta) != nil && !micAnnulled:
		return StageMicDtaRegistered
	case view.LatestSuccess(contracts.OpRegistrarEnvios) != nil:
		return StageEnviosRegistered
	case view.LatestSuccess(contracts.OpRegistrarTitEnvios) != nil:
		return StageTitlesRegistered
	default:
		return StageNotStarted
	}
}

// Validate runs the non-blocking three-bucket review for a voyage.
func (f *Facade) Validate(ctx context.Context, voyageID string) (*validate.Report, error) {
	voyage, view, err := f.load(ctx, voyageID)
	if err != nil {
		return nil, err
	}
	rep := validate.Review(voyage, view)
	return &rep, nil
}

// CheckOperation answers whether one operation could run right now,
// without running it.
func (f *Facade) CheckOperation(ctx context.Context, voyageID string, op contracts.Operation, req validate.Request) (*validate.Decision, error) {
	voyage, view, err := f.load(ctx, voyageID)
	if err != nil {
		return nil, err
	}
	d := validate.Check(voyage, op, req, view)
	return &d, nil
}

// PreviewPayload returns the exact request body an execute call would
// send, without sending it.
func (f *Facade) PreviewPayload(voyageID string, op contracts.Operation, opts orchestrator.Options) (json.RawMessage, error) {
	return f.exec.Preview(voyageID, op, opts)
}

// Activity lists ledger records for a voyage, newest first.
func (f *Facade) Activity(ctx context.Context, voyageID string, filter ledger.Filter) ([]contracts.SubmissionRecord, error) {
	return f.ledger.Query(ctx, voyageID, filter)
}

// Tracks returns the derived track registry view for a voyage.
func (f *Facade) Tracks(ctx context.Context, voyageID string) ([]contracts.Track, error) {
	view, err := f.ledger.View(ctx, voyageID)
	if err != nil {
		return nil, err
	}
	return tracks.Derive(view), nil
}

// ErrTrackingDisabled is returned by position reads when the gateway
// runs without a geofence engine.
var ErrTrackingDisabled = errors.New("query: position tracking disabled")

// Positions returns the stored sample history for a voyage.
func (f *Facade) Positions(ctx context.Context, voyageID string, since time.Time) ([]contracts.PositionSample, error) {
	if f.engine == nil {
		return nil, ErrTrackingDisabled
	}
	return f.engine.Samples(ctx, voyageID, since)
}

// PositionStats folds windowed statistics over the sample history.
func (f *Facade) PositionStats(ctx context.Context, voyageID string, since time.Time) (*contracts.PositionStats, error) {
	if f.engine == nil {
		return nil, ErrTrackingDisabled
	}
	return f.engine.Stats(ctx, voyageID, since)
}

// ControlPoints lists the configured checkpoints.
func (f *Facade) ControlPoints() []contracts.ControlPoint {
	if f.engine == nil {
		return nil
	}
	return f.engine.ControlPoints()
}

func (f *Facade) load(ctx context.Context, voyageID string) (*contracts.Voyage, *ledger.View, error) {
	voyage, err := f.voyages.Voyage(voyageID)
	if err != nil {
		return nil, nil, fmt.Errorf("query: load voyage %s: %w", voyageID, err)
	}
	if voyage == nil {
		return nil, nil, fmt.Errorf("%w: %s", contracts.ErrVoyageNotFound, voyageID)
	}
	view, err := f.ledger.View(ctx, voyageID)
	if err != nil {
		return nil, nil, fmt.Errorf("query: ledger view: %w", err)
	}
	return voyage, view, nil
}
