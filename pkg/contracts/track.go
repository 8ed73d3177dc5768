package contracts

import "time"

// TrackStatus is the lifecycle of a tracking identifier. Transitions
// move forward only: GENERATED -> USED_IN_* -> COMPLETED, with
// CANCELLED terminal from any state.
type TrackStatus string

const (
	TrackGenerated  TrackStatus = "GENERATED"
	TrackUsedMicDta TrackStatus = "USED_IN_MICDTA"
	TrackUsedConvoy TrackStatus = "USED_IN_CONVOY"
	TrackCompleted  TrackStatus = "COMPLETED"
	TrackCancelled  TrackStatus = "CANCELLED"
)

var trackRank = map[TrackStatus]int{
	TrackGenerated:  0,
	TrackUsedMicDta: 1,
	TrackUsedConvoy: 1,
	TrackCompleted:  2,
	TrackCancelled:  3,
}

// CanTransition reports whether a track may move from s to next.
// Cancellation is allowed from any non-terminal state and is itself
// terminal.
func (s TrackStatus) CanTransition(next TrackStatus) bool {
	if s == TrackCancelled || s == TrackCompleted {
		return false
	}
	if next == TrackCancelled {
		return true
	}
	return trackRank[next] > trackRank[s]
}

// TrackOrigin distinguishes authority-assigned identifiers from
// synthetic ones minted locally when a sandbox environment does not
// allocate real tracks. Every consumer must handle both.
type TrackOrigin string

const (
	TrackOriginReal      TrackOrigin = "REAL"
	TrackOriginSynthetic TrackOrigin = "SYNTHETIC"
)

// Track is a tracking identifier derived from ledger records; it has
// no storage of its own.
type Track struct {
	Number      string      `json:"number"`
	Type        string      `json:"type,omitempty"`
	Origin      TrackOrigin `json:"origin"`
	VoyageID    string      `json:"voyage_id"`
	ShipmentID  string      `json:"shipment_id,omitempty"`
	Status      TrackStatus `json:"status"`
	GeneratedBy Operation   `json:"generated_by"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// Synthetic reports whether the track number was minted locally.
func (t *Track) Synthetic() bool {
	return t.Origin == TrackOriginSynthetic
}
