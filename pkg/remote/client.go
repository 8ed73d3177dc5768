// Package remote models the customs authority interface. The wire
// format is opaque to the gateway: an operation name and a structured
// payload go in, a success payload or a structured error comes out,
// synchronously and under a bounded timeout.
package remote

import (
	"context"
	"encoding/json"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

// Result is a successful operation response.
type Result struct {
	// ExternalRef is the confirmation identifier assigned by the
	// authority (MIC/DTA number, annulment receipt, ...).
	ExternalRef string `json:"external_ref"`
	// Payload is the structured success body, stored verbatim in the
	// ledger record. Track-producing operations carry a "tracks"
	// array inside it.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Warnings are non-blocking remarks from the authority.
	Warnings []string `json:"warnings,omitempty"`
}

// Client invokes one named operation against the authority. A non-nil
// error is either a *contracts.RemoteError (the authority rejected the
// call) or a transport failure; timeouts surface as context errors.
type Client interface {
	Invoke(ctx context.Context, op contracts.Operation, payload interface{}) (*Result, error)
}

// TrackAllocation is the track slice of a success payload, shared by
// the sandbox client and tests.
type TrackAllocation struct {
	Number string `json:"number"`
	Type   string `json:"type,omitempty"`
	Origin string `json:"origin"`
}

// TrackPayload builds the canonical success payload carrying tracks.
func TrackPayload(tracks []TrackAllocation, extra map[string]interface{}) (json.RawMessage, error) {
	body := map[string]interface{}{"tracks": tracks}
	for k, v := range extra {
		body[k] = v
	}
	return json.Marshal(body)
}
