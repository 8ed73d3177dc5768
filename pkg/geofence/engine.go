package geofence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/orchestrator"
)

// Suppression defaults: a sample is only forwarded when the vessel
// moved meaningfully or enough time passed since the last forward.
const (
	DefaultMinInterval  = 5 * time.Minute
	DefaultMinDistanceM = 500.0
)

// ErrInvalidCoordinates rejects samples outside the WGS84 envelope.
var ErrInvalidCoordinates = errors.New("geofence: coordinates out of range")

// Config tunes the suppression window.
type Config struct {
	// MinInterval is the shortest gap between two forwarded samples,
	// unless the vessel crossed into a control point.
	MinInterval time.Duration
	// MinDistanceM is the movement below which a sample inside the
	// interval is considered noise.
	MinDistanceM float64
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.MinDistanceM <= 0 {
		c.MinDistanceM = DefaultMinDistanceM
	}
	return c
}

// Engine ingests samples, stores every valid one, and forwards the
// interesting ones to the authority through the orchestrator so each
// forward is a ledger-recorded ActualizarPosicion attempt.
type Engine struct {
	exec      *orchestrator.Orchestrator
	positions ledger.PositionLog
	points    []contracts.ControlPoint
	gate      ForwardGate
	cfg       Config
	logger    *slog.Logger
	clock     func() time.Time

	mu            sync.Mutex
	lastForwarded map[string]contracts.PositionSample
	lastPointCode map[string]string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithGate replaces the default in-process gate.
func WithGate(g ForwardGate) EngineOption {
	return func(e *Engine) { e.gate = g }
}

// WithEngineClock injects a deterministic clock. Used in tests.
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates a geofence engine over the given control points.
func NewEngine(exec *orchestrator.Orchestrator, positions ledger.PositionLog, points []contracts.ControlPoint, cfg Config, opts ...EngineOption) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		exec:          exec,
		positions:     positions,
		points:        points,
		cfg:           cfg,
		logger:        slog.Default().With("component", "geofence"),
		clock:         time.Now,
		lastForwarded: make(map[string]contracts.PositionSample),
		lastPointCode: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gate == nil {
		gate := NewLocalGate(cfg.MinInterval)
		gate.now = e.clock
		e.gate = gate
	}
	return e
}

// ControlPoints returns the configured checkpoints.
func (e *Engine) ControlPoints() []contracts.ControlPoint {
	return e.points
}

// Ingest stores one sample and decides whether to forward it. The
// sample is always persisted; only the forwarding is suppressed.
func (e *Engine) Ingest(ctx context.Context, sample contracts.PositionSample) (*contracts.PositionOutcome, error) {
	if !ValidCoordinates(sample.Latitude, sample.Longitude) {
		return nil, ErrInvalidCoordinates
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = e.clock().UTC()
	}

	stored, err := e.positions.AppendSample(ctx, &sample)
	if err != nil {
		return nil, fmt.Errorf("geofence: store sample: %w", err)
	}

	outcome := &contracts.PositionOutcome{
		Sample:      *stored,
		Disposition: contracts.PositionStored,
	}

	cp := Detect(e.points, stored.Latitude, stored.Longitude)
	outcome.ControlPoint = cp
	entered := e.crossedInto(stored.VoyageID, cp)

	if !entered {
		if by := e.suppressedBy(ctx, stored); by != "" {
			outcome.Disposition = contracts.PositionSkipped
			outcome.SuppressedBy = by
			return outcome, nil
		}
	}

	e.forward(ctx, stored, cp, outcome)
	return outcome, nil
}

// suppressedBy returns the name of the gate that vetoed forwarding, or
// empty when the sample should go out.
func (e *Engine) suppressedBy(ctx context.Context, sample *contracts.PositionSample) string {
	e.mu.Lock()
	last, seen := e.lastForwarded[sample.VoyageID]
	e.mu.Unlock()

	if seen {
		sinceLast := sample.CapturedAt.Sub(last.CapturedAt)
		moved := HaversineMeters(last.Latitude, last.Longitude, sample.Latitude, sample.Longitude)
		if sinceLast < e.cfg.MinInterval && moved < e.cfg.MinDistanceM {
			return "movement-window"
		}
	}

	ok, err := e.gate.Allow(ctx, sample.VoyageID)
	if err != nil {
		// A broken gate must not lose positions; forward and let the
		// authority-side dedupe cope.
		e.logger.ErrorContext(ctx, "forward gate failed, forwarding anyway",
			"voyage", sample.VoyageID, "error", err)
		return ""
	}
	if !ok {
		return "rate-gate"
	}
	return ""
}

func (e *Engine) forward(ctx context.Context, sample *contracts.PositionSample, cp *contracts.ControlPoint, outcome *contracts.PositionOutcome) {
	payload := map[string]interface{}{
		"latitude":    sample.Latitude,
		"longitude":   sample.Longitude,
		"captured_at": sample.CapturedAt,
	}
	if sample.Source != "" {
		payload["source"] = sample.Source
	}
	if cp != nil {
		payload["control_point"] = cp.Code
	}

	_, err := e.exec.Execute(ctx, sample.VoyageID, contracts.OpActualizarPosicion, orchestrator.Options{
		Payload: payload,
	})

	var blocked *contracts.BlockedError
	if errors.As(err, &blocked) {
		// No MIC/DTA registered yet: keep the sample, skip the call.
		outcome.Disposition = contracts.PositionStored
		outcome.SuppressedBy = blocked.Reason
		return
	}

	notif := &contracts.PositionNotification{
		SampleID:     sample.ID,
		VoyageID:     sample.VoyageID,
		ControlPoint: cp,
		SentAt:       e.clock().UTC(),
	}
	if err != nil {
		notif.Error = err.Error()
		outcome.Disposition = contracts.PositionStored
		outcome.Notification = notif
		return
	}

	notif.Success = true
	outcome.Disposition = contracts.PositionForwarded
	outcome.Notification = notif

	e.mu.Lock()
	e.lastForwarded[sample.VoyageID] = *sample
	if cp != nil {
		e.lastPointCode[sample.VoyageID] = cp.Code
	}
	e.mu.Unlock()
}

// crossedInto reports whether this sample enters a control point the
// voyage was not already inside. The hysteresis only advances on a
// successful forward, so a crossing whose notification never went out
// fires again on the next sample.
func (e *Engine) crossedInto(voyageID string, cp *contracts.ControlPoint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cp == nil {
		delete(e.lastPointCode, voyageID)
		return false
	}
	return e.lastPointCode[voyageID] != cp.Code
}

// Samples returns the stored history for a voyage, oldest first.
func (e *Engine) Samples(ctx context.Context, voyageID string, since time.Time) ([]contracts.PositionSample, error) {
	return e.positions.Samples(ctx, voyageID, since)
}

// Stats folds windowed statistics over the stored sample history.
func (e *Engine) Stats(ctx context.Context, voyageID string, since time.Time) (*contracts.PositionStats, error) {
	samples, err := e.positions.Samples(ctx, voyageID, since)
	if err != nil {
		return nil, fmt.Errorf("geofence: load samples: %w", err)
	}

	stats := &contracts.PositionStats{Samples: len(samples), From: since}
	if len(samples) == 0 {
		return stats, nil
	}
	stats.From = samples[0].CapturedAt
	stats.To = samples[len(samples)-1].CapturedAt

	hits := make(map[string]bool)
	var distance float64
	for i := range samples {
		if cp := Detect(e.points, samples[i].Latitude, samples[i].Longitude); cp != nil && !hits[cp.Code] {
			hits[cp.Code] = true
			stats.ControlPointHits = append(stats.ControlPointHits, cp.Code)
		}
		if i == 0 {
			continue
		}
		distance += HaversineMeters(
			samples[i-1].Latitude, samples[i-1].Longitude,
			samples[i].Latitude, samples[i].Longitude,
		)
	}
	stats.DistanceM = distance
	stats.ActiveDuration = stats.To.Sub(stats.From)
	if hours := stats.ActiveDuration.Hours(); hours > 0 {
		stats.AverageSpeedKmh = (distance / 1000) / hours
	}
	return stats, nil
}
