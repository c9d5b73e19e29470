package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hale-app/hale/internal/config"
	"github.com/hale-app/hale/internal/health"
	"github.com/hale-app/hale/internal/loggy"
)

// Uploader is the engine's view of the upload path. It owns its own
// retry/backoff policy; the engine treats send as a black box and only
// advances anchors after a send returns nil.
type Uploader interface {
	SendBatch(ctx context.Context, batch *health.BatchPayload) error
	SendProfile(ctx context.Context, profile *health.ProfilePayload) error
	SendSummary(ctx context.Context, summary *health.SummaryPayload) error
	SetSyncCompleted(ctx context.Context, completed bool) error
}

// APIError represents an error response from the Hale server
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Client uploads serialized record batches to the Hale server
type Client struct {
	baseURL    string
	token      string
	deviceName string
	timeout    time.Duration
	httpClient *http.Client
	logger     *loggy.Logger
}

// NewClient creates the HTTP upload client
func NewClient(cfg config.ServerConfig, uploadTimeout time.Duration, logger *loggy.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL:    cfg.URL,
		token:      cfg.Token,
		deviceName: cfg.DeviceName,
		timeout:    uploadTimeout,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger:     logger,
	}
}

// SetToken updates the authentication token
func (c *Client) SetToken(token string) {
	c.token = token
}

// SendBatch uploads one batch of added/removed records
func (c *Client) SendBatch(ctx context.Context, batch *health.BatchPayload) error {
	if batch.DeviceName == "" {
		batch.DeviceName = c.deviceName
	}
	return c.post(ctx, "/api/v1/sync/records", batch)
}

// SendProfile uploads the one-shot profile snapshot
func (c *Client) SendProfile(ctx context.Context, profile *health.ProfilePayload) error {
	if profile.DeviceName == "" {
		profile.DeviceName = c.deviceName
	}
	return c.post(ctx, "/api/v1/sync/profile", profile)
}

// SendSummary uploads the derived daily summary
func (c *Client) SendSummary(ctx context.Context, summary *health.SummaryPayload) error {
	if summary.DeviceName == "" {
		summary.DeviceName = c.deviceName
	}
	return c.post(ctx, "/api/v1/sync/summary", summary)
}

// SetSyncCompleted sets or clears the server-side "data sync fully
// completed" flag.
func (c *Client) SetSyncCompleted(ctx context.Context, completed bool) error {
	body := map[string]bool{"completed": completed}
	return c.post(ctx, "/api/v1/sync/complete", body)
}

// post sends a JSON body with exponential backoff. Client errors (4xx) are
// permanent; server and network errors are retried until the upload timeout
// elapses.
func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.timeout

	operation := func() error {
		err := c.doPost(ctx, path, payload)
		if err == nil {
			return nil
		}
		if apiErr, ok := err.(APIError); ok && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		c.logger.Debug("Upload attempt failed, retrying", "path", path, "error", err)
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

func (c *Client) doPost(ctx context.Context, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Add("Authorization", "Bearer "+c.token)
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
