package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Discord posts notifications to a Discord webhook URL. The envelope
// is a single "content" field; a successful post answers 204.
type Discord struct {
	url    string
	client *http.Client
}

// NewDiscord creates a Discord channel for the given webhook URL.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		url:    webhookURL,
		client: newClient(),
	}
}

// Name implements Channel.
func (c *Discord) Name() string { return "discord" }

// Configured implements Channel.
func (c *Discord) Configured() bool { return true }

// Send implements Channel.
func (c *Discord) Send(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return Result{}, fmt.Errorf("encoding discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("posting to discord: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := readDetail(resp.Body)
		return Result{StatusCode: resp.StatusCode}, fmt.Errorf("discord returned status %d: %s", resp.StatusCode, detail)
	}
	return Result{StatusCode: resp.StatusCode}, nil
}
