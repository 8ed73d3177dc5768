// Package validate decides whether a requested operation is currently
// permitted, given the voyage aggregate and the post-watermark ledger
// window. It is pure: no I/O, no clock, no remote calls.
package validate

import (
	"fmt"

	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/tracks"
)

// MinJustificationLen is the minimum length of the operator motive
// required before a full reset may run. The reset is irreversible, so
// the justification is the mitigation.
const MinJustificationLen = 20

// Request carries the caller-supplied parameters a rule may inspect.
type Request struct {
	ShipmentID    string
	Titles        []string
	AnularTodos   bool
	Justification string
}

// Decision is the validator verdict for one operation.
type Decision struct {
	Allowed bool
	Reason  string
}

func allowed() Decision              { return Decision{Allowed: true} }
func blocked(reason string) Decision { return Decision{Reason: reason} }
func blockedf(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// rule evaluates one operation's preconditions. Rules consult only the
// most recent record per operation inside the window; pre-reset
// records are invisible by construction of the View.
type rule func(v *contracts.Voyage, req Request, view *ledger.View) Decision

var rules = map[contracts.Operation]rule{
	contracts.OpRegistrarTitEnvios: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		if len(v.Shipments) == 0 {
			return blocked("voyage has no shipments to register titles for")
		}
		if req.ShipmentID != "" && findShipment(v, req.ShipmentID) == nil {
			return blockedf("shipment %s does not belong to voyage %s", req.ShipmentID, v.ID)
		}
		return allowed()
	},

	contracts.OpRegistrarEnvios: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		if req.ShipmentID == "" {
			return blocked("RegistrarEnvios is per shipment; shipment_id is required")
		}
		if findShipment(v, req.ShipmentID) == nil {
			return blockedf("shipment %s does not belong to voyage %s", req.ShipmentID, v.ID)
		}
		if !titlesRegisteredFor(view, req.ShipmentID) {
			return blockedf("shipment %s has no successful RegistrarTitEnvios", req.ShipmentID)
		}
		return allowed()
	},

	contracts.OpRegistrarMicDta: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		live := liveTracksByShipment(view)
		for _, sh := range v.Shipments {
			if len(live[sh.ID]) == 0 {
				return blockedf("shipment %s has no generated track; run RegistrarEnvios first", sh.ID)
			}
		}
		if len(v.Shipments) == 0 {
			return blocked("voyage has no shipments; nothing to manifest")
		}
		return allowed()
	},

	contracts.OpRegistrarTitMicDta: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		return requireSuccess(view, contracts.OpRegistrarMicDta, "titles can only be linked to a registered MIC/DTA")
	},

	contracts.OpRegistrarConvoy: convoyRule(func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		return requireSuccess(view, contracts.OpRegistrarMicDta, "a convoy is declared against a registered MIC/DTA")
	}),

	contracts.OpAsignarATARemol: convoyRule(func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		return requireSuccess(view, contracts.OpRegistrarConvoy, "tug assignment requires a registered convoy")
	}),

	contracts.OpRectifConvoyMicDta: convoyRule(func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		return requireSuccess(view, contracts.OpRegistrarConvoy, "convoy rectification requires a registered convoy")
	}),

	contracts.OpDesvincularTitMicDta: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		linked := view.LatestSuccess(contracts.OpRegistrarTitMicDta)
		if linked == nil {
			return blocked("no successful RegistrarTitMicDta to unlink titles from")
		}
		if len(req.Titles) == 0 {
			return blocked("no titles named for unlinking")
		}
		linkedSet := toSet(linked.LinkedTitles)
		for _, title := range req.Titles {
			if !linkedSet[title] {
				return blockedf("title %s is not in the current MIC/DTA linkage", title)
			}
		}
		return allowed()
	},

	contracts.OpAnularTitulo: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		registered := registeredTitles(v, view)
		if len(registered) == 0 {
			return blocked("no titles are registered for this voyage")
		}
		if req.AnularTodos {
			return allowed()
		}
		if len(req.Titles) != 1 {
			return blocked("AnularTitulo targets exactly one title unless anular_todos is set")
		}
		title := req.Titles[0]
		if !registered[title] {
			return blockedf("title %s is not currently registered", title)
		}
		if annulledTitles(view)[title] {
			return blockedf("title %s is already annulled", title)
		}
		return allowed()
	},

	// AnularEnvios is the escape hatch: always permitted regardless of
	// prior blocks. The full-reset mode still demands a justification
	// before anything is written.
	contracts.OpAnularEnvios: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		if req.AnularTodos && len(req.Justification) < MinJustificationLen {
			return blockedf("full reset requires a justification of at least %d characters", MinJustificationLen)
		}
		return allowed()
	},

	contracts.OpSolicitarAnularMicDta: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		return requireSuccess(view, contracts.OpRegistrarMicDta, "there is no registered MIC/DTA to annul")
	},

	contracts.OpAnularMicDta: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		return requireSuccess(view, contracts.OpRegistrarMicDta, "there is no registered MIC/DTA to annul")
	},

	contracts.OpRegistrarSalidaZonaPrimaria: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		return requireSuccess(view, contracts.OpRegistrarMicDta, "zona primaria events require a registered MIC/DTA")
	},

	contracts.OpRegistrarArriboZonaPrimaria: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		if d := requireSuccess(view, contracts.OpRegistrarMicDta, "zona primaria events require a registered MIC/DTA"); !d.Allowed {
			return d
		}
		return requireSuccess(view, contracts.OpRegistrarSalidaZonaPrimaria, "arrival must follow a registered zona primaria exit")
	},

	contracts.OpActualizarPosicion: func(v *contracts.Voyage, req Request, view *ledger.View) Decision {
		return requireSuccess(view, contracts.OpRegistrarMicDta, "position updates require a registered MIC/DTA")
	},
}

// Check decides whether op may run now. Query-family operations are
// always permitted.
func Check(v *contracts.Voyage, op contracts.Operation, req Request, view *ledger.View) Decision {
	spec, ok := op.Spec()
	if !ok {
		return blockedf("unknown operation %q", op)
	}
	if spec.ConvoyOnly && !v.IsConvoy() {
		return blockedf("%s applies to convoys only; voyage %s sails a single vessel", op, v.ID)
	}
	if spec.Family == contracts.FamilyQuery {
		return allowed()
	}
	r, ok := rules[op]
	if !ok {
		return allowed()
	}
	return r(v, req, view)
}

func convoyRule(next rule) rule {
	// Convoy cardinality is checked centrally in Check; the wrapper
	// keeps the rule table explicit about which operations carry it.
	return next
}

func requireSuccess(view *ledger.View, op contracts.Operation, reason string) Decision {
	if view.LatestSuccess(op) == nil {
		return blockedf("%s: no successful %s after the last reset", reason, op)
	}
	return allowed()
}

// titlesRegisteredFor reports whether shipmentID is covered by a title
// registration success: either its own record or a voyage-wide one.
func titlesRegisteredFor(view *ledger.View, shipmentID string) bool {
	return view.LatestSuccessForShipment(contracts.OpRegistrarTitEnvios, shipmentID) != nil ||
		view.LatestSuccessForShipment(contracts.OpRegistrarTitEnvios, "") != nil
}

func findShipment(v *contracts.Voyage, id string) *contracts.Shipment {
	for i := range v.Shipments {
		if v.Shipments[i].ID == id {
			return &v.Shipments[i]
		}
	}
	return nil
}

// liveTracksByShipment groups non-cancelled tracks by shipment.
func liveTracksByShipment(view *ledger.View) map[string][]contracts.Track {
	out := make(map[string][]contracts.Track)
	for _, t := range tracks.Derive(view) {
		if t.Status == contracts.TrackCancelled {
			continue
		}
		out[t.ShipmentID] = append(out[t.ShipmentID], t)
	}
	return out
}

// registeredTitles is the set of titles belonging to shipments whose
// title registration succeeded inside the window.
func registeredTitles(v *contracts.Voyage, view *ledger.View) map[string]bool {
	out := make(map[string]bool)
	for _, sh := range v.Shipments {
		if !titlesRegisteredFor(view, sh.ID) {
			continue
		}
		for _, title := range sh.Titles {
			out[title] = true
		}
	}
	return out
}

// annulledTitles is the set of titles covered by annulment successes
// inside the window.
func annulledTitles(view *ledger.View) map[string]bool {
	out := make(map[string]bool)
	for _, rec := range view.Successes(contracts.OpAnularTitulo) {
		for _, title := range rec.LinkedTitles {
			out[title] = true
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}
