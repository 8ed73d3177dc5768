package orchestrator

import (
	"github.com/litoral-labs/micdta/pkg/contracts"
)

// BuildPayload assembles the request body for one operation from the
// voyage aggregate and the caller options. Caller-supplied payload
// fields override derived ones, so operators can patch a single field
// without reimplementing the whole body.
func BuildPayload(v *contracts.Voyage, op contracts.Operation, opts Options) map[string]interface{} {
	body := map[string]interface{}{
		"operation":   string(op),
		"voyage_id":   v.ID,
		"origin":      v.Origin,
		"destination": v.Destination,
		"lead_vessel": v.LeadVessel,
	}
	if v.IsConvoy() {
		body["vessel_count"] = v.VesselCount
	}

	if opts.ShipmentID != "" {
		body["shipment_id"] = opts.ShipmentID
		if sh := shipmentByID(v, opts.ShipmentID); sh != nil && len(sh.Titles) > 0 {
			body["shipment_titles"] = sh.Titles
		}
	}
	if len(opts.Titles) > 0 {
		body["titles"] = opts.Titles
	}
	if opts.AnularTodos {
		body["anular_todos"] = true
	}
	if opts.Justification != "" {
		body["justification"] = opts.Justification
	}

	for k, val := range opts.Payload {
		body[k] = val
	}
	return body
}

func shipmentByID(v *contracts.Voyage, id string) *contracts.Shipment {
	for i := range v.Shipments {
		if v.Shipments[i].ID == id {
			return &v.Shipments[i]
		}
	}
	return nil
}
