package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecordDispatches(t *testing.T) {
	m := New()
	m.RecordAccepted("webhook", 100*time.Millisecond)
	m.RecordAccepted("relay", 200*time.Millisecond)
	m.RecordRejected("webhook")
	m.RecordError("webhook")

	m.mu.Lock()
	if m.acceptedCount != 2 {
		t.Errorf("expected 2 accepted, got %d", m.acceptedCount)
	}
	if m.rejectedCount != 1 {
		t.Errorf("expected 1 rejected, got %d", m.rejectedCount)
	}
	if m.errorCount != 1 {
		t.Errorf("expected 1 error, got %d", m.errorCount)
	}
	m.mu.Unlock()
}

func TestRecordTargetOutcomes(t *testing.T) {
	m := New()
	m.RecordSinkOutcome("file", OutcomeOK)
	m.RecordSinkOutcome("file", OutcomeOK)
	m.RecordSinkOutcome("sheets", OutcomeSkipped)
	m.RecordChannelOutcome("slack", OutcomeError)

	m.mu.Lock()
	if m.sinkCounts["file|ok"] != 2 {
		t.Errorf("expected file|ok=2, got %d", m.sinkCounts["file|ok"])
	}
	if m.sinkCounts["sheets|skipped"] != 1 {
		t.Errorf("expected sheets|skipped=1, got %d", m.sinkCounts["sheets|skipped"])
	}
	if m.channelCounts["slack|error"] != 1 {
		t.Errorf("expected slack|error=1, got %d", m.channelCounts["slack|error"])
	}
	m.mu.Unlock()
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.RecordAccepted("webhook", 100*time.Millisecond)
	m.RecordRejected("webhook")
	m.RecordSinkOutcome("file", OutcomeOK)
	m.RecordChannelOutcome("slack", OutcomeError)
	m.RecordRotation()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	body, _ := io.ReadAll(w.Body)
	text := string(body)

	if !strings.Contains(text, "hookrelay_dispatches_total") {
		t.Error("expected hookrelay_dispatches_total in /metrics output")
	}
	if !strings.Contains(text, `result="accepted"`) {
		t.Error("expected accepted label in /metrics output")
	}
	if !strings.Contains(text, `result="rejected"`) {
		t.Error("expected rejected label in /metrics output")
	}
	if !strings.Contains(text, "hookrelay_sink_appends_total") {
		t.Error("expected hookrelay_sink_appends_total in /metrics output")
	}
	if !strings.Contains(text, "hookrelay_channel_sends_total") {
		t.Error("expected hookrelay_channel_sends_total in /metrics output")
	}
	if !strings.Contains(text, "hookrelay_file_rotations_total") {
		t.Error("expected hookrelay_file_rotations_total in /metrics output")
	}
	if !strings.Contains(text, "hookrelay_dispatch_duration_seconds") {
		t.Error("expected hookrelay_dispatch_duration_seconds in /metrics output")
	}
}

func TestStatsHandler(t *testing.T) {
	m := New()
	m.RecordAccepted("webhook", 100*time.Millisecond)
	m.RecordRejected("webhook")
	m.RecordSinkOutcome("file", OutcomeOK)
	m.RecordChannelOutcome("telegram", OutcomeSkipped)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	m.StatsHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Dispatches.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Dispatches.Total)
	}
	if stats.Dispatches.Accepted != 1 {
		t.Errorf("accepted = %d, want 1", stats.Dispatches.Accepted)
	}
	if stats.Sinks["file|ok"] != 1 {
		t.Errorf("sinks[file|ok] = %d, want 1", stats.Sinks["file|ok"])
	}
	if stats.Channels["telegram|skipped"] != 1 {
		t.Errorf("channels[telegram|skipped] = %d, want 1", stats.Channels["telegram|skipped"])
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordAccepted("webhook", time.Millisecond)
			m.RecordSinkOutcome("file", OutcomeOK)
			m.RecordChannelOutcome("slack", OutcomeOK)
		}()
	}
	wg.Wait()

	m.mu.Lock()
	if m.acceptedCount != 50 {
		t.Errorf("accepted = %d, want 50", m.acceptedCount)
	}
	if m.sinkCounts["file|ok"] != 50 {
		t.Errorf("sinks[file|ok] = %d, want 50", m.sinkCounts["file|ok"])
	}
	m.mu.Unlock()
}
