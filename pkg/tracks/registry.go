// Package tracks maintains the derived view of tracking identifiers.
// Tracks have no storage of their own: they are computed from the
// post-watermark ledger window, so a full reset makes them disappear
// together with the records that produced them.
package tracks

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
)

var (
	ErrTrackNotFound     = fmt.Errorf("tracks: track not found")
	ErrInvalidTransition = fmt.Errorf("tracks: invalid status transition")
)

// trackResult is the slice of a success payload the registry cares
// about. Remote result payloads are otherwise opaque.
type trackResult struct {
	Tracks []struct {
		Number string `json:"number"`
		Type   string `json:"type"`
		Origin string `json:"origin"`
	} `json:"tracks"`
}

// Derive computes the track set for a ledger window, applying the
// lifecycle rules in record order:
//   - track-producing successes introduce tracks as GENERATED
//   - a later RegistrarMicDta success moves existing tracks to
//     USED_IN_MICDTA; convoy successes move them to USED_IN_CONVOY
//   - RegistrarArriboZonaPrimaria success completes them
//   - annulment successes cancel the tracks they cover
//
// Transitions that would move a track backwards are ignored; the
// status machine is monotonic.
func Derive(view *ledger.View) []contracts.Track {
	byNumber := make(map[string]*contracts.Track)
	var order []string

	advance := func(t *contracts.Track, next contracts.TrackStatus) {
		if t.Status.CanTransition(next) {
			t.Status = next
		}
	}

	for i := range view.Records {
		rec := &view.Records[i]
		if rec.Status != contracts.RecordSuccess {
			continue
		}
		spec, ok := rec.Operation.Spec()
		if !ok {
			continue
		}

		if spec.ProducesTracks && len(rec.Result) > 0 {
			var res trackResult
			if err := json.Unmarshal(rec.Result, &res); err == nil {
				for _, tp := range res.Tracks {
					if tp.Number == "" {
						continue
					}
					if _, exists := byNumber[tp.Number]; exists {
						continue
					}
					origin := contracts.TrackOrigin(tp.Origin)
					if origin != contracts.TrackOriginSynthetic {
						origin = contracts.TrackOriginReal
					}
					generatedAt := rec.CreatedAt
					if rec.SealedAt != nil {
						generatedAt = *rec.SealedAt
					}
					byNumber[tp.Number] = &contracts.Track{
						Number:      tp.Number,
						Type:        tp.Type,
						Origin:      origin,
						VoyageID:    rec.VoyageID,
						ShipmentID:  rec.ShipmentID,
						Status:      contracts.TrackGenerated,
						GeneratedBy: rec.Operation,
						GeneratedAt: generatedAt,
					}
					order = append(order, tp.Number)
				}
			}
		}

		switch rec.Operation {
		case contracts.OpRegistrarMicDta:
			for _, n := range order {
				advance(byNumber[n], contracts.TrackUsedMicDta)
			}
		case contracts.OpRegistrarConvoy, contracts.OpAsignarATARemol:
			for _, n := range order {
				advance(byNumber[n], contracts.TrackUsedConvoy)
			}
		case contracts.OpRegistrarArriboZonaPrimaria:
			for _, n := range order {
				advance(byNumber[n], contracts.TrackCompleted)
			}
		case contracts.OpAnularTitulo, contracts.OpAnularEnvios:
			for _, n := range order {
				t := byNumber[n]
				if rec.ShipmentID != "" && t.ShipmentID != rec.ShipmentID {
					continue
				}
				advance(t, contracts.TrackCancelled)
			}
		}
	}

	out := make([]contracts.Track, 0, len(order))
	for _, n := range order {
		out = append(out, *byNumber[n])
	}
	return out
}

// Registry caches the derived track view per voyage and supports the
// explicit mark operations of the orchestrator.
type Registry struct {
	mu       sync.RWMutex
	byVoyage map[string][]contracts.Track
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byVoyage: make(map[string][]contracts.Track)}
}

// Rebuild replaces the cached view for one voyage from its ledger
// window.
func (r *Registry) Rebuild(view *ledger.View) {
	derived := Derive(view)
	r.mu.Lock()
	r.byVoyage[view.VoyageID] = derived
	r.mu.Unlock()
}

// TracksFor returns the tracks of a voyage in generation order.
func (r *Registry) TracksFor(voyageID string) []contracts.Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contracts.Track, len(r.byVoyage[voyageID]))
	copy(out, r.byVoyage[voyageID])
	return out
}

// MarkUsed advances one track to a USED_IN_* state.
func (r *Registry) MarkUsed(voyageID, number string, usage contracts.TrackStatus) error {
	if usage != contracts.TrackUsedMicDta && usage != contracts.TrackUsedConvoy {
		return fmt.Errorf("%w: %s is not a usage state", ErrInvalidTransition, usage)
	}
	return r.transition(voyageID, number, usage)
}

// MarkCancelled cancels one track. Cancellation is terminal.
func (r *Registry) MarkCancelled(voyageID, number string) error {
	return r.transition(voyageID, number, contracts.TrackCancelled)
}

func (r *Registry) transition(voyageID, number string, next contracts.TrackStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byVoyage[voyageID]
	for i := range list {
		if list[i].Number != number {
			continue
		}
		if !list[i].Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s for track %s", ErrInvalidTransition, list[i].Status, next, number)
		}
		list[i].Status = next
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTrackNotFound, number)
}
