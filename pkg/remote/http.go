package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

// HTTPClient talks to the customs bridge service that owns the actual
// SOAP conversation. The bridge accepts JSON envelopes per operation
// and mirrors the authority's success/error structure back.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the bridge at baseURL. timeout
// bounds each invocation; after it elapses the attempt is a failure,
// never an automatic retry.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Invoke(ctx context.Context, op contracts.Operation, payload interface{}) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("remote: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/operations/%s", c.baseURL, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: invoke %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var result Result
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("remote: decode success payload: %w", err)
		}
		if result.Payload == nil {
			result.Payload = raw
		}
		return &result, nil
	}

	var remoteErr contracts.RemoteError
	if err := json.Unmarshal(raw, &remoteErr); err != nil || remoteErr.Code == "" {
		remoteErr = contracts.RemoteError{
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: string(raw),
		}
	}
	return nil, &remoteErr
}
