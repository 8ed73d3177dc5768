package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/litoral-labs/micdta/pkg/canonicalize"
	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
)

// Manifest describes one evidence bundle. Per-file hashes let an
// auditor verify each member independently of the archive checksum.
type Manifest struct {
	VoyageID     string            `json:"voyage_id"`
	GeneratedAt  time.Time         `json:"generated_at"`
	Records      int               `json:"records"`
	Positions    int               `json:"positions"`
	WatermarkSeq uint64            `json:"watermark_seq,omitempty"`
	ChainHead    string            `json:"chain_head,omitempty"`
	Files        map[string]string `json:"files"`
}

// Exporter assembles evidence bundles from the ledger.
type Exporter struct {
	ledger    ledger.Ledger
	positions ledger.PositionLog
	store     BundleStore
	clock     func() time.Time
}

// NewExporter creates an Exporter. positions may be nil when the
// gateway runs without position tracking; store may be nil when only
// in-memory bundles are needed.
func NewExporter(lg ledger.Ledger, positions ledger.PositionLog, store BundleStore) *Exporter {
	return &Exporter{ledger: lg, positions: positions, store: store, clock: time.Now}
}

// WithClock injects a deterministic clock. Used in tests.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Bundle builds the zip for one voyage: the complete submission
// history including pre-reset records, the position trail, and the
// manifest. Returns the archive and its checksum.
func (e *Exporter) Bundle(ctx context.Context, voyageID string) ([]byte, *Manifest, error) {
	// Full history: the evidence bundle deliberately ignores the
	// watermark, an audit covers resets too.
	records, err := e.ledger.Query(ctx, voyageID, ledger.Filter{})
	if err != nil {
		return nil, nil, fmt.Errorf("export: query records: %w", err)
	}
	view, err := e.ledger.View(ctx, voyageID)
	if err != nil {
		return nil, nil, fmt.Errorf("export: ledger view: %w", err)
	}

	var samples []contracts.PositionSample
	if e.positions != nil {
		samples, err = e.positions.Samples(ctx, voyageID, time.Time{})
		if err != nil {
			return nil, nil, fmt.Errorf("export: query positions: %w", err)
		}
	}

	manifest := &Manifest{
		VoyageID:     voyageID,
		GeneratedAt:  e.clock().UTC(),
		Records:      len(records),
		Positions:    len(samples),
		WatermarkSeq: view.WatermarkSeq,
		Files:        make(map[string]string),
	}
	if len(records) > 0 {
		manifest.ChainHead = records[0].EntryHash
	}

	recordsJSON, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("export: encode records: %w", err)
	}
	samplesJSON, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("export: encode positions: %w", err)
	}
	manifest.Files["records.json"] = canonicalize.HashBytes(recordsJSON)
	manifest.Files["positions.json"] = canonicalize.HashBytes(samplesJSON)

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("export: encode manifest: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	members := []struct {
		name string
		data []byte
	}{
		{"manifest.json", manifestJSON},
		{"records.json", recordsJSON},
		{"positions.json", samplesJSON},
	}
	for _, m := range members {
		w, err := zw.Create(m.name)
		if err != nil {
			return nil, nil, fmt.Errorf("export: create %s: %w", m.name, err)
		}
		if _, err := w.Write(m.data); err != nil {
			return nil, nil, fmt.Errorf("export: write %s: %w", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, nil, fmt.Errorf("export: close archive: %w", err)
	}

	return buf.Bytes(), manifest, nil
}

// Export builds the bundle and persists it through the configured
// store. Returns the bundle location and its checksum.
func (e *Exporter) Export(ctx context.Context, voyageID string) (string, string, error) {
	if e.store == nil {
		return "", "", fmt.Errorf("export: no bundle store configured")
	}
	data, manifest, err := e.Bundle(ctx, voyageID)
	if err != nil {
		return "", "", err
	}

	key := fmt.Sprintf("micdta-%s-%s.zip", voyageID, manifest.GeneratedAt.Format("20060102T150405Z"))
	location, err := e.store.Put(ctx, key, data)
	if err != nil {
		return "", "", err
	}
	return location, canonicalize.HashBytes(data), nil
}
