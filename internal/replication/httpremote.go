package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Remote is the remote session store
type Remote interface {
	Pull(ctx context.Context) (Snapshot, error)
	Push(ctx context.Context, snap Snapshot) error
}

// HTTPRemote talks to a sync server over GET/POST /sync with a bearer token
type HTTPRemote struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPRemote creates a remote client for baseURL
func NewHTTPRemote(baseURL, token string, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRemote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Pull fetches the remote snapshot.
func (c *HTTPRemote) Pull(ctx context.Context) (Snapshot, error) {
	body, err := c.doRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Push sends the full snapshot to the remote.
func (c *HTTPRemote) Push(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = c.doRequest(ctx, http.MethodPost, payload)
	return err
}

func (c *HTTPRemote) doRequest(ctx context.Context, method string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/sync", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s /sync: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s /sync: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
