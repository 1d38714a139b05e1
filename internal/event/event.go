// Package event defines the canonical intake record and validates raw
// webhook payloads into it.
package event

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the fixed timestamp format persisted by sinks and
// rendered in channel messages.
const TimeLayout = "2006-01-02 15:04:05"

// UnknownUserAgent is the sentinel recorded when the request carries no
// User-Agent header.
const UnknownUserAgent = "unknown"

// Kind identifies which intake route produced an event. The webhook
// route requires an "event" field; the relay route requires only "user"
// and treats "message" as optional.
type Kind string

// Intake route kinds.
const (
	KindWebhook Kind = "webhook"
	KindRelay   Kind = "relay"
)

// payloadField returns the JSON field name holding the primary payload
// for this kind, and whether it is required.
func (k Kind) payloadField() (name string, required bool) {
	if k == KindRelay {
		return "message", false
	}
	return "event", true
}

// Event is one validated inbound notification. Events are immutable
// after validation; the dispatcher and sinks only read them.
type Event struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	User      string
	Payload   string
	ClientIP  string
	UserAgent string
}

// TimestampString renders the receipt instant in the fixed sink format.
func (e *Event) TimestampString() string {
	return e.Timestamp.Format(TimeLayout)
}

// Row returns the five-column record persisted by tabular sinks:
// timestamp, user, payload, client IP, user agent.
func (e *Event) Row() []string {
	return []string{e.TimestampString(), e.User, e.Payload, e.ClientIP, e.UserAgent}
}

// Message builds the human-readable notification text sent to channels.
func (e *Event) Message() string {
	verb := "triggered"
	if e.Kind == KindRelay {
		verb = "relayed"
	}
	return fmt.Sprintf("%s %s: %s at %s", e.User, verb, e.Payload, e.TimestampString())
}

// ValidationError reports a malformed or incomplete inbound payload.
// It maps to a client error at the HTTP boundary; the dispatcher never
// sees the event.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Meta carries request metadata needed to fill the non-payload fields
// of an Event.
type Meta struct {
	RemoteAddr   string
	ForwardedFor string // raw X-Forwarded-For header value
	UserAgent    string
}

// Validate turns a decoded JSON object into a canonical Event.
// The webhook kind requires non-empty "user" and "event"; the relay
// kind requires only "user" and defaults "message" to the empty string.
// Non-string values for required fields fail validation.
func Validate(kind Kind, body map[string]any, meta Meta) (*Event, error) {
	user, err := stringField(body, "user", true)
	if err != nil {
		return nil, err
	}

	field, required := kind.payloadField()
	payload, err := stringField(body, field, required)
	if err != nil {
		return nil, err
	}

	ua := meta.UserAgent
	if ua == "" {
		ua = UnknownUserAgent
	}

	return &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		User:      user,
		Payload:   payload,
		ClientIP:  ClientIP(meta.ForwardedFor, meta.RemoteAddr),
		UserAgent: ua,
	}, nil
}

// stringField extracts a string value from the decoded body. Required
// fields must be present, of string type, and non-empty. Optional
// fields default to "" when absent but still reject non-string values.
func stringField(body map[string]any, name string, required bool) (string, error) {
	raw, ok := body[name]
	if !ok || raw == nil {
		if required {
			return "", &ValidationError{Reason: fmt.Sprintf("missing required field %q", name)}
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ValidationError{Reason: fmt.Sprintf("field %q must be a string", name)}
	}
	if required && s == "" {
		return "", &ValidationError{Reason: fmt.Sprintf("field %q must not be empty", name)}
	}
	return s, nil
}

// ClientIP resolves the client address with proxy-header precedence:
// the first entry of X-Forwarded-For when present, otherwise the
// direct peer address with the port stripped.
func ClientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
