package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

// SandboxClient emulates the authority's homologation environment.
// The sandbox does not allocate real tracking identifiers, so every
// track it mints carries TrackOrigin SYNTHETIC; consumers must keep
// that visible to operators.
type SandboxClient struct {
	mu       sync.Mutex
	counter  int
	failures map[contracts.Operation]*contracts.RemoteError
}

// NewSandboxClient creates a sandbox with no scripted failures.
func NewSandboxClient() *SandboxClient {
	return &SandboxClient{failures: make(map[contracts.Operation]*contracts.RemoteError)}
}

// FailWith scripts the next invocations of op to return err. Passing a
// nil error clears the script.
func (c *SandboxClient) FailWith(op contracts.Operation, err *contracts.RemoteError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, op)
		return
	}
	c.failures[op] = err
}

func (c *SandboxClient) Invoke(ctx context.Context, op contracts.Operation, payload interface{}) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec, ok := op.Spec()
	if !ok {
		return nil, &contracts.RemoteError{Code: "UNKNOWN_METHOD", Message: fmt.Sprintf("method %s is not exposed", op)}
	}

	c.mu.Lock()
	if scripted := c.failures[op]; scripted != nil {
		c.mu.Unlock()
		return nil, scripted
	}
	c.counter++
	n := c.counter
	c.mu.Unlock()

	result := &Result{ExternalRef: fmt.Sprintf("SBX-%s-%06d", op, n)}
	if spec.ProducesTracks {
		payload, err := TrackPayload([]TrackAllocation{{
			Number: fmt.Sprintf("STK-%06d", n),
			Type:   "envio",
			Origin: string(contracts.TrackOriginSynthetic),
		}}, nil)
		if err != nil {
			return nil, err
		}
		result.Payload = payload
	}
	return result, nil
}
