// Package backend is the typed REST client for the backend of record:
// fetching pending work and device geometries, registering attempts,
// and recording results or failures.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/framefeed/display-pipeline/pkg/pipeline"
)

// Client is an HTTP client for the backend of record.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new backend client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewWithHTTPClient creates a backend client with a custom HTTP client.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type stagedResponse struct {
	Sources []pipeline.Source `json:"sources"`
}

type devicesResponse struct {
	Devices []pipeline.DeviceGeometry `json:"devices"`
}

// StartRequest registers one processing attempt.
type StartRequest struct {
	Attempt int `json:"attempt"`
}

// StartResponse acknowledges an attempt and returns the device
// geometries to target. An empty device list is a valid response
// meaning there is nothing to render.
type StartResponse struct {
	Attempt int                       `json:"attempt"`
	Devices []pipeline.DeviceGeometry `json:"devices"`
}

// FinalizeRequest reports a completed source, covering both processed
// and duplicate outcomes.
type FinalizeRequest struct {
	SourceID    string                   `json:"sourceId"`
	Fingerprint string                   `json:"fingerprint"`
	BlobData    *pipeline.SourceMetadata `json:"blobData,omitempty"`
	ColorData   []string                 `json:"colorData,omitempty"`
	Variants    []pipeline.Variant       `json:"variants"`
}

// TerminalFailureRequest reports a source that exhausted its attempts.
type TerminalFailureRequest struct {
	ErrorMessage string `json:"error_message"`
	AttemptCount int    `json:"attempt_count"`
}

// TransientFailureRequest reports a failure the scheduler should retry.
type TransientFailureRequest struct {
	Error   string `json:"error"`
	Attempt int    `json:"attempt"`
}

// CheckHash reports whether the fingerprint is already known.
func (c *Client) CheckHash(ctx context.Context, fp string) (bool, error) {
	var resp existsResponse
	err := c.do(ctx, http.MethodGet, "/check-hash/"+url.PathEscape(fp), nil, &resp)
	if err != nil {
		return false, fmt.Errorf("check hash: %w", err)
	}
	return resp.Exists, nil
}

// FetchStaged returns up to limit sources awaiting processing.
func (c *Client) FetchStaged(ctx context.Context, limit int) ([]pipeline.Source, error) {
	var resp stagedResponse
	path := fmt.Sprintf("/staged?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch staged: %w", err)
	}
	return resp.Sources, nil
}

// FetchDevices returns every device geometry to render for.
func (c *Client) FetchDevices(ctx context.Context) ([]pipeline.DeviceGeometry, error) {
	var resp devicesResponse
	if err := c.do(ctx, http.MethodGet, "/device-dimensions", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch devices: %w", err)
	}
	return resp.Devices, nil
}

// RegisterAttempt announces (sourceID, attempt) before any work begins
// and returns the device list to target.
func (c *Client) RegisterAttempt(ctx context.Context, sourceID string, attempt int) (*StartResponse, error) {
	var resp StartResponse
	path := "/" + url.PathEscape(sourceID) + "/start"
	if err := c.do(ctx, http.MethodPost, path, StartRequest{Attempt: attempt}, &resp); err != nil {
		return nil, fmt.Errorf("register attempt: %w", err)
	}
	return &resp, nil
}

// Finalize reports a completed source.
func (c *Client) Finalize(ctx context.Context, req FinalizeRequest) error {
	if err := c.do(ctx, http.MethodPost, "/finalize", req, nil); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// ReportTerminalFailure marks the source permanently failed. The
// external queue must not re-schedule it.
func (c *Client) ReportTerminalFailure(ctx context.Context, sourceID string, req TerminalFailureRequest) error {
	path := "/" + url.PathEscape(sourceID) + "/failed"
	if err := c.do(ctx, http.MethodPost, path, req, nil); err != nil {
		return fmt.Errorf("report terminal failure: %w", err)
	}
	return nil
}

// ReportTransientFailure marks the attempt failed but retryable.
func (c *Client) ReportTransientFailure(ctx context.Context, sourceID string, req TransientFailureRequest) error {
	path := "/images/" + url.PathEscape(sourceID) + "/failed"
	if err := c.do(ctx, http.MethodPatch, path, req, nil); err != nil {
		return fmt.Errorf("report transient failure: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
