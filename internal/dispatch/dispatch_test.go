package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luckyPipewrench/hookrelay/internal/channel"
	"github.com/luckyPipewrench/hookrelay/internal/event"
	"github.com/luckyPipewrench/hookrelay/internal/sink"
)

type fakeSink struct {
	name       string
	configured bool
	err        error
	panicMsg   string
	delay      time.Duration

	mu    sync.Mutex
	calls int
	last  *event.Event
}

func (s *fakeSink) Name() string     { return s.name }
func (s *fakeSink) Configured() bool { return s.configured }
func (s *fakeSink) Close() error     { return nil }

func (s *fakeSink) Append(ctx context.Context, ev *event.Event) error {
	s.mu.Lock()
	s.calls++
	s.last = ev
	s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *fakeSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeChannel struct {
	name       string
	configured bool
	status     int
	err        error
	panicMsg   string

	mu    sync.Mutex
	calls int
	texts []string
}

func (c *fakeChannel) Name() string     { return c.name }
func (c *fakeChannel) Configured() bool { return c.configured }

func (c *fakeChannel) Send(_ context.Context, text string) (channel.Result, error) {
	c.mu.Lock()
	c.calls++
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	if c.err != nil {
		return channel.Result{}, c.err
	}
	status := c.status
	if status == 0 {
		status = 200
	}
	return channel.Result{StatusCode: status}, nil
}

func (c *fakeChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testEvent(t *testing.T) *event.Event {
	t.Helper()
	ev, err := event.Validate(event.KindWebhook,
		map[string]any{"user": "ava", "event": "signup"},
		event.Meta{RemoteAddr: "10.0.0.9:4242", UserAgent: "curl/8"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return ev
}

func TestDispatchAllConfigured(t *testing.T) {
	s1 := &fakeSink{name: "file", configured: true}
	s2 := &fakeSink{name: "sheets", configured: true}
	c1 := &fakeChannel{name: "slack", configured: true}
	c2 := &fakeChannel{name: "discord", configured: true, status: 204}

	d := New([]sink.Sink{s1, s2}, []channel.Channel{c1, c2}, nil, nil)
	agg := d.Dispatch(context.Background(), testEvent(t))

	if len(agg.Sinks) != 2 || len(agg.Channels) != 2 {
		t.Fatalf("outcome counts = %d sinks, %d channels", len(agg.Sinks), len(agg.Channels))
	}
	for _, o := range agg.Sinks {
		if !o.OK {
			t.Errorf("sink %s failed: %s", o.Name, o.Detail)
		}
	}
	if got := agg.ChannelMap()["discord"].Detail; got != "status 204" {
		t.Errorf("discord detail = %q, want %q", got, "status 204")
	}
	if s1.callCount() != 1 || s2.callCount() != 1 || c1.callCount() != 1 || c2.callCount() != 1 {
		t.Error("every configured target should be called exactly once")
	}
}

func TestDispatchOrderMatchesConfiguration(t *testing.T) {
	sinks := []sink.Sink{
		&fakeSink{name: "file", configured: true, delay: 20 * time.Millisecond},
		&fakeSink{name: "sheets", configured: false},
		&fakeSink{name: "sqlite", configured: true},
	}
	d := New(sinks, nil, nil, nil)
	agg := d.Dispatch(context.Background(), testEvent(t))

	want := []string{"file", "sheets", "sqlite"}
	for i, o := range agg.Sinks {
		if o.Name != want[i] {
			t.Errorf("outcome %d = %q, want %q", i, o.Name, want[i])
		}
	}
}

func TestDispatchSkipsUnconfigured(t *testing.T) {
	s := &fakeSink{name: "sheets", configured: false}
	c := &fakeChannel{name: "telegram", configured: false}

	d := New([]sink.Sink{s}, []channel.Channel{c}, nil, nil)
	agg := d.Dispatch(context.Background(), testEvent(t))

	if s.callCount() != 0 {
		t.Error("unconfigured sink must not receive Append")
	}
	if c.callCount() != 0 {
		t.Error("unconfigured channel must not receive Send")
	}
	for _, o := range append(agg.Sinks, agg.Channels...) {
		if o.OK || o.Detail != NotConfigured {
			t.Errorf("%s outcome = %+v, want skipped %q", o.Name, o.Outcome, NotConfigured)
		}
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	s1 := &fakeSink{name: "file", configured: true, err: errors.New("disk full")}
	s2 := &fakeSink{name: "sqlite", configured: true}
	c1 := &fakeChannel{name: "slack", configured: true, err: errors.New("slack returned status 500")}
	c2 := &fakeChannel{name: "discord", configured: true}

	d := New([]sink.Sink{s1, s2}, []channel.Channel{c1, c2}, nil, nil)
	agg := d.Dispatch(context.Background(), testEvent(t))

	sinks := agg.SinkMap()
	if sinks["file"].OK || !strings.Contains(sinks["file"].Detail, "disk full") {
		t.Errorf("file outcome = %+v", sinks["file"])
	}
	if !sinks["sqlite"].OK {
		t.Errorf("sqlite should succeed despite sibling failure: %+v", sinks["sqlite"])
	}

	channels := agg.ChannelMap()
	if channels["slack"].OK {
		t.Error("slack should report failure")
	}
	if !channels["discord"].OK {
		t.Errorf("discord should succeed despite sibling failure: %+v", channels["discord"])
	}
	if c2.callCount() != 1 {
		t.Error("sink failures must not suppress channel sends")
	}
}

func TestDispatchRecoversTargetPanic(t *testing.T) {
	s := &fakeSink{name: "file", configured: true, panicMsg: "nil map write"}
	c := &fakeChannel{name: "slack", configured: true, panicMsg: "boom"}

	d := New([]sink.Sink{s}, []channel.Channel{c}, nil, nil)
	agg := d.Dispatch(context.Background(), testEvent(t))

	if got := agg.SinkMap()["file"]; got.OK || !strings.Contains(got.Detail, "nil map write") {
		t.Errorf("sink panic outcome = %+v", got)
	}
	if got := agg.ChannelMap()["slack"]; got.OK || !strings.Contains(got.Detail, "boom") {
		t.Errorf("channel panic outcome = %+v", got)
	}
}

func TestDispatchChannelTextIsEventMessage(t *testing.T) {
	c := &fakeChannel{name: "slack", configured: true}
	d := New(nil, []channel.Channel{c}, nil, nil)
	ev := testEvent(t)

	d.Dispatch(context.Background(), ev)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.texts) != 1 || c.texts[0] != ev.Message() {
		t.Errorf("channel text = %q, want %q", c.texts, ev.Message())
	}
}

func TestCounts(t *testing.T) {
	outcomes := []TargetOutcome{
		{Name: "a", Outcome: Outcome{OK: true}},
		{Name: "b", Outcome: Outcome{OK: false, Detail: NotConfigured}},
		{Name: "c", Outcome: Outcome{OK: false, Detail: "timeout"}},
		{Name: "d", Outcome: Outcome{OK: true, Detail: "status 200"}},
	}
	ok, failed := Counts(outcomes)
	if ok != 2 || failed != 1 {
		t.Errorf("Counts = (%d, %d), want (2, 1)", ok, failed)
	}
}

func TestReportFailureSwallowsErrors(t *testing.T) {
	c1 := &fakeChannel{name: "slack", configured: true, err: errors.New("down")}
	c2 := &fakeChannel{name: "telegram", configured: true, panicMsg: "boom"}
	c3 := &fakeChannel{name: "discord", configured: false}

	d := New(nil, []channel.Channel{c1, c2, c3}, nil, nil)
	d.ReportFailure(context.Background(), "dispatch failure")

	if c1.callCount() != 1 || c2.callCount() != 1 {
		t.Error("all configured channels should receive the failure report")
	}
	if c3.callCount() != 0 {
		t.Error("unconfigured channel must not be called")
	}
}
