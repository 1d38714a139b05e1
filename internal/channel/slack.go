package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Slack posts notifications to a Slack incoming-webhook URL. The
// envelope is a single "text" field; Slack answers a plain "ok" body.
type Slack struct {
	url    string
	client *http.Client
}

// NewSlack creates a Slack channel for the given incoming-webhook URL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		url:    webhookURL,
		client: newClient(),
	}
}

// Name implements Channel.
func (c *Slack) Name() string { return "slack" }

// Configured implements Channel.
func (c *Slack) Configured() bool { return true }

// Send implements Channel.
func (c *Slack) Send(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Result{}, fmt.Errorf("encoding slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("posting to slack: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := readDetail(resp.Body)
		return Result{StatusCode: resp.StatusCode}, fmt.Errorf("slack returned status %d: %s", resp.StatusCode, detail)
	}
	return Result{StatusCode: resp.StatusCode}, nil
}
