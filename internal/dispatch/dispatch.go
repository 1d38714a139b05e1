// Package dispatch implements the fan-out core: one validated event is
// written to every configured sink, then announced on every configured
// channel, with each target isolated so a failure in one never blocks
// or corrupts the others.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luckyPipewrench/hookrelay/internal/audit"
	"github.com/luckyPipewrench/hookrelay/internal/channel"
	"github.com/luckyPipewrench/hookrelay/internal/event"
	"github.com/luckyPipewrench/hookrelay/internal/metrics"
	"github.com/luckyPipewrench/hookrelay/internal/sink"
)

// NotConfigured is the outcome detail recorded for capabilities that
// were never given credentials. It is a recoverable skip, not an error
// worth alerting on.
const NotConfigured = "not_configured"

// targetTimeout bounds each individual sink append. Channel sends carry
// their own client timeout.
const targetTimeout = 10 * time.Second

// Outcome is the per-target result attached to the aggregate response.
type Outcome struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// TargetOutcome pairs an outcome with the target it came from.
type TargetOutcome struct {
	Name string
	Outcome
}

// Aggregate collects per-target outcomes for one dispatch, in
// configuration order.
type Aggregate struct {
	Sinks    []TargetOutcome
	Channels []TargetOutcome
}

// SinkMap returns sink outcomes keyed by target name for the JSON
// response.
func (a *Aggregate) SinkMap() map[string]Outcome {
	return outcomeMap(a.Sinks)
}

// ChannelMap returns channel outcomes keyed by target name for the
// JSON response.
func (a *Aggregate) ChannelMap() map[string]Outcome {
	return outcomeMap(a.Channels)
}

func outcomeMap(outcomes []TargetOutcome) map[string]Outcome {
	m := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		m[o.Name] = o.Outcome
	}
	return m
}

// Counts returns how many targets in the list succeeded and how many
// failed. Skipped (not configured) targets count as neither.
func Counts(outcomes []TargetOutcome) (ok, failed int) {
	for _, o := range outcomes {
		switch {
		case o.OK:
			ok++
		case o.Detail == NotConfigured:
			// skipped
		default:
			failed++
		}
	}
	return ok, failed
}

// Dispatcher drives the sinks-then-channels fan-out. Its target sets
// are resolved once at startup and read-only afterwards.
type Dispatcher struct {
	sinks    []sink.Sink
	channels []channel.Channel
	logger   *audit.Logger
	metrics  *metrics.Metrics
}

// New creates a Dispatcher over the given targets. Unconfigured
// targets are carried so their skipped outcomes appear in every
// aggregate.
func New(sinks []sink.Sink, channels []channel.Channel, logger *audit.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = audit.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Dispatcher{
		sinks:    sinks,
		channels: channels,
		logger:   logger,
		metrics:  m,
	}
}

// Dispatch runs one event through every sink, then every channel, and
// returns the aggregate outcome. Sinks run before channels so a crash
// mid-dispatch still leaves a durable trace of anything announced.
// Individual target failures are absorbed into outcomes; Dispatch
// itself does not fail.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.Event) *Aggregate {
	agg := &Aggregate{
		Sinks:    d.runSinks(ctx, ev),
		Channels: d.runChannels(ctx, ev.Message(), ev.ID),
	}
	return agg
}

// runSinks appends the event to all configured sinks concurrently.
// Targets are independent: no ordering is guaranteed between them and
// one failing never skips another.
func (d *Dispatcher) runSinks(ctx context.Context, ev *event.Event) []TargetOutcome {
	results := make([]TargetOutcome, len(d.sinks))

	var wg sync.WaitGroup
	for i, s := range d.sinks {
		if !s.Configured() {
			results[i] = TargetOutcome{Name: s.Name(), Outcome: Outcome{OK: false, Detail: NotConfigured}}
			d.logger.LogSinkSkipped(s.Name(), ev.ID)
			d.metrics.RecordSinkOutcome(s.Name(), metrics.OutcomeSkipped)
			continue
		}
		wg.Add(1)
		go func(i int, s sink.Sink) {
			defer wg.Done()
			results[i] = d.appendOne(ctx, s, ev)
		}(i, s)
	}
	wg.Wait()

	return results
}

// appendOne performs a single isolated sink append. Panics in a sink
// implementation are captured as failed outcomes, not propagated.
func (d *Dispatcher) appendOne(ctx context.Context, s sink.Sink, ev *event.Event) (out TargetOutcome) {
	out = TargetOutcome{Name: s.Name()}
	defer func() {
		if r := recover(); r != nil {
			out.Outcome = Outcome{OK: false, Detail: fmt.Sprintf("panic: %v", r)}
			d.logger.LogSinkError(s.Name(), ev.ID, fmt.Errorf("panic: %v", r))
			d.metrics.RecordSinkOutcome(s.Name(), metrics.OutcomeError)
		}
	}()

	appendCtx, cancel := context.WithTimeout(ctx, targetTimeout)
	defer cancel()

	if err := s.Append(appendCtx, ev); err != nil {
		out.Outcome = Outcome{OK: false, Detail: err.Error()}
		d.logger.LogSinkError(s.Name(), ev.ID, err)
		d.metrics.RecordSinkOutcome(s.Name(), metrics.OutcomeError)
		return out
	}

	out.Outcome = Outcome{OK: true}
	d.metrics.RecordSinkOutcome(s.Name(), metrics.OutcomeOK)
	return out
}

// runChannels sends the message on all configured channels
// concurrently. Single attempt per channel, no retry.
func (d *Dispatcher) runChannels(ctx context.Context, text, requestID string) []TargetOutcome {
	results := make([]TargetOutcome, len(d.channels))

	var wg sync.WaitGroup
	for i, c := range d.channels {
		if !c.Configured() {
			results[i] = TargetOutcome{Name: c.Name(), Outcome: Outcome{OK: false, Detail: NotConfigured}}
			d.logger.LogChannelSkipped(c.Name(), requestID)
			d.metrics.RecordChannelOutcome(c.Name(), metrics.OutcomeSkipped)
			continue
		}
		wg.Add(1)
		go func(i int, c channel.Channel) {
			defer wg.Done()
			results[i] = d.sendOne(ctx, c, text, requestID)
		}(i, c)
	}
	wg.Wait()

	return results
}

// sendOne performs a single isolated channel send. Panics in a channel
// implementation are captured as failed outcomes, not propagated.
func (d *Dispatcher) sendOne(ctx context.Context, c channel.Channel, text, requestID string) (out TargetOutcome) {
	out = TargetOutcome{Name: c.Name()}
	defer func() {
		if r := recover(); r != nil {
			out.Outcome = Outcome{OK: false, Detail: fmt.Sprintf("panic: %v", r)}
			d.logger.LogChannelError(c.Name(), requestID, fmt.Sprintf("panic: %v", r))
			d.metrics.RecordChannelOutcome(c.Name(), metrics.OutcomeError)
		}
	}()

	res, err := c.Send(ctx, text)
	if err != nil {
		out.Outcome = Outcome{OK: false, Detail: err.Error()}
		d.logger.LogChannelError(c.Name(), requestID, err.Error())
		d.metrics.RecordChannelOutcome(c.Name(), metrics.OutcomeError)
		return out
	}

	out.Outcome = Outcome{OK: true, Detail: fmt.Sprintf("status %d", res.StatusCode)}
	d.metrics.RecordChannelOutcome(c.Name(), metrics.OutcomeOK)
	return out
}

// ReportFailure announces an orchestration failure on every configured
// channel, best effort. Failures of the self-report are swallowed; a
// broken notifier must not mask the original error.
func (d *Dispatcher) ReportFailure(ctx context.Context, text string) {
	for _, c := range d.channels {
		if !c.Configured() {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			_, _ = c.Send(ctx, text)
		}()
	}
}
