// Package contracts defines the shared domain types of the MIC/DTA
// submission gateway: the voyage aggregate, the append-only submission
// ledger records, derived tracks, and position tracking types.
package contracts

import "time"

// Voyage is the aggregate root for one transport operation. It is
// owned by the surrounding records application; the gateway treats it
// as read-only input.
type Voyage struct {
	ID          string     `json:"id"`
	Origin      string     `json:"origin"`
	Destination string     `json:"destination"`
	LeadVessel  string     `json:"lead_vessel"`
	VesselCount int        `json:"vessel_count"`
	Shipments   []Shipment `json:"shipments"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsConvoy reports whether the voyage operates more than one vessel,
// which unlocks the convoy operation family.
func (v *Voyage) IsConvoy() bool {
	return v.VesselCount > 1
}

// Shipment is one envío carried by the voyage. Titles are the
// transport document identifiers the customs authority assigns per
// shipment registration.
type Shipment struct {
	ID          string   `json:"id"`
	VoyageID    string   `json:"voyage_id"`
	Description string   `json:"description,omitempty"`
	Titles      []string `json:"titles,omitempty"`
}

// VoyageSource supplies voyage aggregates to the gateway. Implemented
// by the surrounding application; the gateway never writes through it.
type VoyageSource interface {
	Voyage(id string) (*Voyage, error)
}
