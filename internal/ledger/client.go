// Package ledger talks to the external distributed-ledger gateway that keeps
// cross-session client statistics. The gateway is best-effort: its failure
// degrades analytics freshness and nothing else.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scrapehive/discovery/internal/quota"
)

// Snapshot is the gateway's view of one client's statistics.
type Snapshot struct {
	ClientID         string    `json:"clientId"`
	Tier             string    `json:"tier"`
	TotalPoints      int64     `json:"totalPoints"`
	TotalUrlsScraped int64     `json:"totalUrlsScraped"`
	BandwidthBytes   int64     `json:"bandwidthBytes"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// Client is the HTTP client for the ledger gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a gateway client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Health probes the gateway with a lightweight check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// Submit pushes a client's current statistics to the gateway.
func (c *Client) Submit(ctx context.Context, clientID string, rec quota.ClientRecord) error {
	payload, err := json.Marshal(Snapshot{
		ClientID:         clientID,
		Tier:             string(rec.Tier),
		TotalPoints:      rec.TotalPoints,
		TotalUrlsScraped: rec.TotalDelivered,
		BandwidthBytes:   rec.BandwidthBytes,
		LastUpdated:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	endpoint := fmt.Sprintf("%s/clients/%s/stats", c.baseURL, clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Fetch reads a client's statistics back from the gateway. Callers should
// probe Health first and fall back to local records on any failure.
func (c *Client) Fetch(ctx context.Context, clientID string) (*Snapshot, error) {
	endpoint := fmt.Sprintf("%s/clients/%s/stats", c.baseURL, clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &snap, nil
}
