// Package voyages provides the gateway's voyage catalog backends. The
// catalog is reference data: voyages are declared by the surrounding
// records application and the gateway only reads them.
package voyages

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

// Static is an in-memory VoyageSource.
type Static struct {
	mu      sync.RWMutex
	voyages map[string]*contracts.Voyage
}

// NewStatic builds an in-memory catalog from the given voyages.
func NewStatic(list []contracts.Voyage) *Static {
	s := &Static{voyages: make(map[string]*contracts.Voyage, len(list))}
	for i := range list {
		v := list[i]
		s.voyages[v.ID] = &v
	}
	return s
}

// Voyage implements contracts.VoyageSource. A missing voyage returns
// (nil, nil); callers map that to not-found.
func (s *Static) Voyage(id string) (*contracts.Voyage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voyages[id], nil
}

// Put adds or replaces a voyage in the catalog.
func (s *Static) Put(v contracts.Voyage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voyages[v.ID] = &v
}

// All returns every voyage in the catalog, in map order.
func (s *Static) All() []contracts.Voyage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Voyage, 0, len(s.voyages))
	for _, v := range s.voyages {
		out = append(out, *v)
	}
	return out
}

type voyageFile struct {
	Voyages []voyageEntry `yaml:"voyages"`
}

type voyageEntry struct {
	ID          string          `yaml:"id"`
	Origin      string          `yaml:"origin"`
	Destination string          `yaml:"destination"`
	LeadVessel  string          `yaml:"lead_vessel"`
	VesselCount int             `yaml:"vessel_count"`
	Shipments   []shipmentEntry `yaml:"shipments"`
}

type shipmentEntry struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Titles      []string `yaml:"titles"`
}

// LoadFile reads a voyage catalog from a YAML file. A missing file is
// an empty catalog, matching how the control point list loads.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewStatic(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("voyages: read %s: %w", path, err)
	}

	var file voyageFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("voyages: parse %s: %w", path, err)
	}

	list := make([]contracts.Voyage, 0, len(file.Voyages))
	seen := make(map[string]bool, len(file.Voyages))
	for _, e := range file.Voyages {
		if e.ID == "" {
			return nil, fmt.Errorf("voyages: %s: voyage without id", path)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("voyages: %s: duplicate voyage %s", path, e.ID)
		}
		seen[e.ID] = true
		if e.VesselCount < 1 {
			e.VesselCount = 1
		}
		v := contracts.Voyage{
			ID:          e.ID,
			Origin:      e.Origin,
			Destination: e.Destination,
			LeadVessel:  e.LeadVessel,
			VesselCount: e.VesselCount,
		}
		for _, sh := range e.Shipments {
			v.Shipments = append(v.Shipments, contracts.Shipment{
				ID:          sh.ID,
				VoyageID:    e.ID,
				Description: sh.Description,
				Titles:      sh.Titles,
			})
		}
		list = append(list, v)
	}
	return NewStatic(list), nil
}
