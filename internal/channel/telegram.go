package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Bot API host used when no override is set.
const DefaultTelegramAPI = "https://api.telegram.org"

// Telegram posts notifications through the Bot API sendMessage method.
// The endpoint embeds the bot token in the URL path and the envelope
// carries the chat id alongside the text; the JSON response body is
// echoed into error details.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// TelegramOption configures a Telegram channel.
type TelegramOption func(*Telegram)

// WithTelegramAPI overrides the Bot API host. Used by tests.
func WithTelegramAPI(baseURL string) TelegramOption {
	return func(c *Telegram) {
		c.baseURL = baseURL
	}
}

// NewTelegram creates a Telegram channel for the given bot token and
// chat id.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	c := &Telegram{
		baseURL: DefaultTelegramAPI,
		token:   token,
		chatID:  chatID,
		client:  newClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Channel.
func (c *Telegram) Name() string { return "telegram" }

// Configured implements Channel.
func (c *Telegram) Configured() bool { return true }

// telegramResponse is the Bot API result envelope.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send implements Channel.
func (c *Telegram) Send(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(map[string]string{
		"chat_id": c.chatID,
		"text":    text,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("posting to telegram: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	detail := strings.TrimSpace(string(raw))

	var tr telegramResponse
	parsed := readErr == nil && json.Unmarshal(raw, &tr) == nil

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if parsed && tr.Description != "" {
			return Result{StatusCode: resp.StatusCode}, fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, tr.Description)
		}
		return Result{StatusCode: resp.StatusCode}, fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	// The Bot API reports logical failures inside a 2xx envelope.
	if parsed && !tr.OK {
		if tr.Description != "" {
			return Result{StatusCode: resp.StatusCode}, fmt.Errorf("telegram rejected message: %s", tr.Description)
		}
		return Result{StatusCode: resp.StatusCode}, fmt.Errorf("telegram rejected message (status %d)", resp.StatusCode)
	}
	if !parsed {
		return Result{StatusCode: resp.StatusCode}, fmt.Errorf("telegram returned status %d with unexpected body: %s", resp.StatusCode, detail)
	}
	return Result{StatusCode: resp.StatusCode}, nil
}
