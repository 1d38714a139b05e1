// Package sink provides durable append-only targets for validated
// events. Implementations must be safe for concurrent use.
package sink

import (
	"context"

	"github.com/luckyPipewrench/hookrelay/internal/event"
)

// Sink is the interface for durable event stores.
type Sink interface {
	// Name identifies the sink in aggregate outcomes and logs.
	Name() string

	// Configured reports whether the sink has the credentials or paths
	// it needs. The dispatcher never calls Append on an unconfigured
	// sink; it records a skipped outcome instead.
	Configured() bool

	// Append records one event. Each append is a single record; no
	// partial-write visibility is guaranteed across failures.
	Append(ctx context.Context, ev *event.Event) error

	// Close releases resources held by the sink.
	Close() error
}

// Disabled returns a sink placeholder for a capability that was never
// given configuration. It reports Configured() == false and performs
// no I/O.
func Disabled(name string) Sink {
	return disabledSink{name: name}
}

type disabledSink struct {
	name string
}

func (s disabledSink) Name() string     { return s.name }
func (s disabledSink) Configured() bool { return false }
func (s disabledSink) Close() error     { return nil }

func (s disabledSink) Append(context.Context, *event.Event) error {
	return nil
}
