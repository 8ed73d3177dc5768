package voyages

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

// SQLStore persists the voyage catalog in the gateway database, so a
// restarted gateway serves the same catalog without re-reading files.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Init creates the voyages table if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS voyages (
		id TEXT PRIMARY KEY,
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		lead_vessel TEXT,
		vessel_count INTEGER NOT NULL DEFAULT 1,
		shipments TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("voyages: init schema: %w", err)
	}
	return nil
}

// Voyage implements contracts.VoyageSource.
func (s *SQLStore) Voyage(id string) (*contracts.Voyage, error) {
	var v contracts.Voyage
	var shipmentsJSON string
	err := s.db.QueryRow(
		`SELECT id, origin, destination, lead_vessel, vessel_count, shipments FROM voyages WHERE id = $1`,
		id,
	).Scan(&v.ID, &v.Origin, &v.Destination, &v.LeadVessel, &v.VesselCount, &shipmentsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("voyages: load %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(shipmentsJSON), &v.Shipments); err != nil {
		return nil, fmt.Errorf("voyages: decode shipments for %s: %w", id, err)
	}
	return &v, nil
}

// Upsert writes one voyage into the catalog.
func (s *SQLStore) Upsert(ctx context.Context, v contracts.Voyage) error {
	shipmentsJSON, err := json.Marshal(v.Shipments)
	if err != nil {
		return fmt.Errorf("voyages: encode shipments for %s: %w", v.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO voyages (id, origin, destination, lead_vessel, vessel_count, shipments)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET origin = $2, destination = $3, lead_vessel = $4, vessel_count = $5, shipments = $6`,
		v.ID, v.Origin, v.Destination, v.LeadVessel, v.VesselCount, string(shipmentsJSON),
	)
	if err != nil {
		return fmt.Errorf("voyages: upsert %s: %w", v.ID, err)
	}
	return nil
}

// Import upserts every voyage from the given catalog, typically a
// file catalog loaded at startup.
func (s *SQLStore) Import(ctx context.Context, from *Static) error {
	for _, v := range from.All() {
		if err := s.Upsert(ctx, v); err != nil {
			return err
		}
	}
	return nil
}
