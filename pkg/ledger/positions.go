package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

// PositionLog stores GPS samples. Samples are immutable and retention
// is unbounded; windowed statistics are folded on demand.
type PositionLog interface {
	AppendSample(ctx context.Context, sample *contracts.PositionSample) (*contracts.PositionSample, error)
	// Samples returns samples captured at or after since, oldest first.
	Samples(ctx context.Context, voyageID string, since time.Time) ([]contracts.PositionSample, error)
}

// AppendSample stores one sample in memory.
func (l *MemoryLedger) AppendSample(ctx context.Context, sample *contracts.PositionSample) (*contracts.PositionSample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored := *sample
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CapturedAt.IsZero() {
		stored.CapturedAt = l.clock().UTC()
	}
	l.samples[stored.VoyageID] = append(l.samples[stored.VoyageID], stored)
	out := stored
	return &out, nil
}

// Samples returns the in-memory sample history for a voyage.
func (l *MemoryLedger) Samples(ctx context.Context, voyageID string, since time.Time) ([]contracts.PositionSample, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]contracts.PositionSample, 0)
	for _, s := range l.samples[voyageID] {
		if !s.CapturedAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

// AppendSample stores one sample.
func (s *SQLLedger) AppendSample(ctx context.Context, sample *contracts.PositionSample) (*contracts.PositionSample, error) {
	stored := *sample
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CapturedAt.IsZero() {
		stored.CapturedAt = s.clock().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO position_samples (id, voyage_id, latitude, longitude, source, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		stored.ID, stored.VoyageID, stored.Latitude, stored.Longitude, nullable(stored.Source), stored.CapturedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: insert sample: %w", err)
	}
	return &stored, nil
}

// Samples returns stored samples captured at or after since.
func (s *SQLLedger) Samples(ctx context.Context, voyageID string, since time.Time) ([]contracts.PositionSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, voyage_id, latitude, longitude, source, captured_at
		FROM position_samples WHERE voyage_id = $1 AND captured_at >= $2 ORDER BY captured_at ASC`,
		voyageID, since)
	if err != nil {
		return nil, fmt.Errorf("ledger: query samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]contracts.PositionSample, 0)
	for rows.Next() {
		var sample contracts.PositionSample
		var source sql.NullString
		if err := rows.Scan(&sample.ID, &sample.VoyageID, &sample.Latitude, &sample.Longitude, &source, &sample.CapturedAt); err != nil {
			return nil, err
		}
		sample.Source = source.String
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
