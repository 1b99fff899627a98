package telemetry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/carebrief/config"
)

func TestStageEventsReachSinks(t *testing.T) {
	sink := NewMemorySink()
	tel, err := New(config.TelemetryConfig{Enabled: true}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tel.Shutdown()

	tel.StageStart("run-1", "planner", map[string]interface{}{"question": "q"})
	tel.StageEnd("run-1", "planner", map[string]interface{}{"queries": 3})
	tel.StageError("run-1", "research", errors.New("boom"))

	events := sink.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Event != EventStart || events[0].Stage != "planner" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Event != EventEnd {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].Event != EventError || events[2].Data["error"] != "boom" {
		t.Fatalf("unexpected error event: %+v", events[2])
	}
	for _, ev := range events {
		if ev.RunID != "run-1" {
			t.Fatalf("event lost its run id: %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatalf("event has no timestamp: %+v", ev)
		}
	}
}

func TestDisabledTelemetryDropsEvents(t *testing.T) {
	sink := NewMemorySink()
	tel, err := New(config.TelemetryConfig{Enabled: false}, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tel.Shutdown()

	tel.StageStart("run-1", "planner", nil)
	tel.StageEnd("run-1", "planner", nil)
	if got := len(sink.Events()); got != 0 {
		t.Fatalf("expected no events when disabled, got %d", got)
	}
}

func TestCostTracking(t *testing.T) {
	tel, err := New(config.TelemetryConfig{Enabled: true, CostTracking: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tel.Shutdown()

	tel.RecordLLMUsage("gpt-4o-mini", 1000, 500, 0.02)
	tel.RecordLLMUsage("gpt-4o-mini", 200, 100, 0.01)
	tel.RecordLLMUsage("gpt-4o", 50, 50, 0.05)

	summary := tel.GetCostSummary()
	if summary.TotalTokens != 1900 {
		t.Fatalf("expected 1900 tokens, got %d", summary.TotalTokens)
	}
	if summary.TotalCost < 0.079 || summary.TotalCost > 0.081 {
		t.Fatalf("expected total cost ~0.08, got %f", summary.TotalCost)
	}
	if summary.ModelCosts["gpt-4o"] != 0.05 {
		t.Fatalf("unexpected per-model cost: %+v", summary.ModelCosts)
	}
}

func TestCostTrackingDisabled(t *testing.T) {
	tel, err := New(config.TelemetryConfig{Enabled: true, CostTracking: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tel.Shutdown()

	tel.RecordLLMUsage("gpt-4o-mini", 1000, 500, 0.02)
	if summary := tel.GetCostSummary(); summary.TotalCost != 0 || summary.TotalTokens != 0 {
		t.Fatalf("expected no accounting when disabled, got %+v", summary)
	}
}

func TestJSONLSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.jsonl")
	tel, err := New(config.TelemetryConfig{Enabled: true, TraceFile: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tel.StageStart("run-9", "writer", nil)
	tel.StageEnd("run-9", "writer", map[string]interface{}{"invalid": false})
	tel.Shutdown()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 trace lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal trace line: %v", err)
	}
	if ev.RunID != "run-9" || ev.Stage != "writer" || ev.Event != EventStart {
		t.Fatalf("unexpected first line: %+v", ev)
	}
}

func TestJSONLSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	for i := 0; i < 2; i++ {
		sink, err := NewJSONLSink(path)
		if err != nil {
			t.Fatalf("NewJSONLSink: %v", err)
		}
		if err := sink.Write(Event{RunID: "run-1", Stage: "planner", Event: EventStart}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}
	if got := len(strings.Split(strings.TrimSpace(string(b)), "\n")); got != 2 {
		t.Fatalf("expected append across opens, got %d lines", got)
	}
}
