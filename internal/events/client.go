package events

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

// Client posts events to a running ingress.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for the ingress listening on addr
// ("host:port" or a full URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL: strings.TrimSuffix(base, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers batch to the instance and returns the per-event results.
func (c *Client) Send(ctx context.Context, instanceUUID string, batch []Event) ([]EventResult, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode events: %w", err)
	}

	url := fmt.Sprintf("%s/v1/instances/%s/events", c.BaseURL, instanceUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to post events: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("event ingress returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var results []EventResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode event results: %w", err)
	}
	return results, nil
}
