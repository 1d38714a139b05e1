// Package channel provides one-way outbound notifiers for chat and
// messaging endpoints. Implementations must be safe for concurrent use.
package channel

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// SendTimeout bounds every outbound notification POST. A hung
// downstream service must not hang the dispatch.
const SendTimeout = 10 * time.Second

// maxDetailBytes caps how much of a response body is echoed into
// outcome details and logs.
const maxDetailBytes = 512

// Result carries the downstream HTTP status of a successful send.
type Result struct {
	StatusCode int
}

// Channel is the interface for outbound notification targets.
type Channel interface {
	// Name identifies the channel in aggregate outcomes and logs.
	Name() string

	// Configured reports whether the channel has the URL or token it
	// needs. The dispatcher never calls Send on an unconfigured
	// channel; it records a skipped outcome instead.
	Configured() bool

	// Send performs one outbound POST with the notification text.
	// Non-success HTTP statuses and transport failures are returned as
	// errors, never panics. Single attempt, no retry.
	Send(ctx context.Context, text string) (Result, error)
}

// Disabled returns a channel placeholder for a capability that was
// never given configuration. It reports Configured() == false and
// performs no network I/O.
func Disabled(name string) Channel {
	return disabledChannel{name: name}
}

type disabledChannel struct {
	name string
}

func (c disabledChannel) Name() string     { return c.name }
func (c disabledChannel) Configured() bool { return false }

func (c disabledChannel) Send(context.Context, string) (Result, error) {
	return Result{}, nil
}

// newClient builds the bounded-timeout HTTP client shared by all
// concrete channels.
func newClient() *http.Client {
	return &http.Client{Timeout: SendTimeout}
}

// readDetail drains up to maxDetailBytes of a response body for error
// details, collapsing whitespace-only bodies to the empty string.
func readDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxDetailBytes))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
