package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
)

// HTTPClient handles HTTP communication between processes
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
	// retry configuration; off by default since the coordinator retries on its own
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates a new HTTP client with timeout
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// WithRetry configures retry attempts for transient failures (5xx or transport errors).
func (c *HTTPClient) WithRetry(maxRetries int, retryDelay time.Duration) *HTTPClient {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryDelay < 0 {
		retryDelay = 0
	}

	c.maxRetries = maxRetries
	c.retryDelay = retryDelay
	return c
}

// DefaultHTTPClient creates a client with default 5 second timeout
func DefaultHTTPClient() *HTTPClient {
	return NewHTTPClient(5 * time.Second)
}

// HealthCheck checks if a process is alive
func (c *HTTPClient) HealthCheck(ctx context.Context, addr string) (*protocol.HealthResponse, error) {
	var health protocol.HealthResponse
	if err := c.getJSON(ctx, addr, "health", &health); err != nil {
		return nil, fmt.Errorf("health check %s: %w", addr, err)
	}
	return &health, nil
}

// ParticipantID asks a participant for its identifier
func (c *HTTPClient) ParticipantID(ctx context.Context, addr string) (int, error) {
	var resp protocol.IDResponse
	if err := c.getJSON(ctx, addr, "id", &resp); err != nil {
		return 0, fmt.Errorf("get id %s: %w", addr, err)
	}
	return resp.ID, nil
}

// ClusterStatus fetches the roster view of a coordinator
func (c *HTTPClient) ClusterStatus(ctx context.Context, addr string) (*protocol.ClusterStatusResponse, error) {
	var status protocol.ClusterStatusResponse
	if err := c.getJSON(ctx, addr, "cluster/status", &status); err != nil {
		return nil, fmt.Errorf("cluster status %s: %w", addr, err)
	}
	return &status, nil
}

// Request sends a client request to a participant
func (c *HTTPClient) Request(ctx context.Context, addr string, req *protocol.ClientRequest) (*protocol.ClientResponse, error) {
	var resp protocol.ClientResponse
	if err := c.postJSON(ctx, addr, "request", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Prepare sends a prepare request to a participant
func (c *HTTPClient) Prepare(ctx context.Context, addr string, req *protocol.PrepareRequest) (*protocol.AckResponse, error) {
	var resp protocol.AckResponse
	if err := c.postJSON(ctx, addr, "prepare", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Commit sends a commit request to a participant
func (c *HTTPClient) Commit(ctx context.Context, addr string, req *protocol.CommitRequest) (*protocol.AckResponse, error) {
	var resp protocol.AckResponse
	if err := c.postJSON(ctx, addr, "commit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Abort sends an abort request to a participant
func (c *HTTPClient) Abort(ctx context.Context, addr string, req *protocol.AbortRequest) (*protocol.AbortResponse, error) {
	var resp protocol.AbortResponse
	if err := c.postJSON(ctx, addr, "abort", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Initiate asks a coordinator to run the protocol
func (c *HTTPClient) Initiate(ctx context.Context, addr string, req *protocol.InitiateRequest) (*protocol.InitiateResponse, error) {
	var resp protocol.InitiateResponse
	if err := c.postJSON(ctx, addr, "initiate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, addr, path string, out any) error {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/%s", addr, path), nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postJSON decodes any non-5xx answer into out; 4xx bodies carry a protocol answer
func (c *HTTPClient) postJSON(ctx context.Context, addr, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/%s", addr, path), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", path, resp.StatusCode, err)
	}
	return nil
}

func (c *HTTPClient) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	attempts := c.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("transient status: %d", resp.StatusCode)
			// drain so the connection can be reused
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if attempt == attempts-1 {
			break
		}

		if c.retryDelay > 0 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, lastErr
}
