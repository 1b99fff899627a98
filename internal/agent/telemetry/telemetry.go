package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/carebrief/config"
)

// Event kinds emitted around each pipeline stage.
const (
	EventStart = "start"
	EventEnd   = "end"
	EventError = "error"
)

// Event is one trace record. Events are append-only: recorders never
// mutate or reorder what a sink has already received.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Stage     string                 `json:"stage"`
	Event     string                 `json:"event"` // start, end, error
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Sink receives trace events. Implementations must tolerate concurrent
// calls; the recorder serialises writes per sink but multiple recorders
// may share one sink.
type Sink interface {
	Write(ev Event) error
	Close() error
}

var (
	stageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carebrief_stage_events_total",
		Help: "Trace events recorded per pipeline stage and kind.",
	}, []string{"stage", "event"})
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carebrief_stage_duration_seconds",
		Help:    "Wall time between start and end events per stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carebrief_llm_tokens_total",
		Help: "Tokens consumed per model and direction.",
	}, []string{"model", "direction"})
	llmCost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carebrief_llm_cost_dollars_total",
		Help: "Estimated LLM spend per model.",
	}, []string{"model"})
)

// Telemetry records trace events and tracks LLM usage for a process.
// One instance is shared across concurrent runs; events from different
// runs interleave in the sink but each carries its run_id.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger
	sinks  []Sink
	mu     sync.Mutex

	stageStarts map[string]time.Time // run_id|stage -> start
	totalCost   float64
	totalTokens int64
	modelCosts  map[string]float64
}

// New creates a telemetry instance. When cfg.TraceFile is set a JSONL
// sink is opened (appending); extra sinks may be attached for tests.
func New(cfg config.TelemetryConfig, extra ...Sink) (*Telemetry, error) {
	t := &Telemetry{
		config:      cfg,
		logger:      log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		stageStarts: make(map[string]time.Time),
		modelCosts:  make(map[string]float64),
	}
	if cfg.Enabled && cfg.TraceFile != "" {
		js, err := NewJSONLSink(cfg.TraceFile)
		if err != nil {
			return nil, err
		}
		t.sinks = append(t.sinks, js)
	}
	t.sinks = append(t.sinks, extra...)
	return t, nil
}

// StageStart records a start event for a stage of a run.
func (t *Telemetry) StageStart(runID, stage string, data map[string]interface{}) {
	t.record(Event{Timestamp: time.Now().UTC(), RunID: runID, Stage: stage, Event: EventStart, Data: data})
}

// StageEnd records an end event for a stage of a run.
func (t *Telemetry) StageEnd(runID, stage string, data map[string]interface{}) {
	t.record(Event{Timestamp: time.Now().UTC(), RunID: runID, Stage: stage, Event: EventEnd, Data: data})
}

// StageError records an error event. The stage still emits an end
// event afterwards so every start is paired.
func (t *Telemetry) StageError(runID, stage string, err error) {
	t.record(Event{Timestamp: time.Now().UTC(), RunID: runID, Stage: stage, Event: EventError,
		Data: map[string]interface{}{"error": err.Error()}})
}

func (t *Telemetry) record(ev Event) {
	if !t.config.Enabled {
		return
	}
	stageRuns.WithLabelValues(ev.Stage, ev.Event).Inc()

	t.mu.Lock()
	key := ev.RunID + "|" + ev.Stage
	switch ev.Event {
	case EventStart:
		t.stageStarts[key] = ev.Timestamp
	case EventEnd:
		if start, ok := t.stageStarts[key]; ok {
			stageDuration.WithLabelValues(ev.Stage).Observe(ev.Timestamp.Sub(start).Seconds())
			delete(t.stageStarts, key)
		}
	}
	for _, s := range t.sinks {
		if err := s.Write(ev); err != nil {
			t.logger.Printf("trace sink write failed: %v", err)
		}
	}
	t.mu.Unlock()
}

// RecordLLMUsage tracks token and cost totals for one model call.
func (t *Telemetry) RecordLLMUsage(model string, inputTokens, outputTokens int64, cost float64) {
	if !t.config.Enabled || !t.config.CostTracking {
		return
	}
	llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	llmCost.WithLabelValues(model).Add(cost)

	t.mu.Lock()
	t.totalCost += cost
	t.totalTokens += inputTokens + outputTokens
	t.modelCosts[model] += cost
	t.mu.Unlock()
}

// CostSummary provides a summary of LLM spend for this process.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
}

// GetCostSummary returns current cost summary
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := CostSummary{
		TotalCost:   t.totalCost,
		TotalTokens: t.totalTokens,
		ModelCosts:  make(map[string]float64),
	}
	for k, v := range t.modelCosts {
		summary.ModelCosts[k] = v
	}
	return summary
}

// Shutdown flushes and closes all sinks and logs a final cost report.
func (t *Telemetry) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sinks {
		if err := s.Close(); err != nil {
			t.logger.Printf("trace sink close failed: %v", err)
		}
	}
	t.sinks = nil

	if t.config.CostTracking {
		t.logger.Printf("Final Report: Cost=$%.4f, Tokens=%d", t.totalCost, t.totalTokens)
		for model, cost := range t.modelCosts {
			t.logger.Printf("  Model %s: $%.4f", model, cost)
		}
	}
}

// JSONLSink appends one JSON object per line to a file.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating trace dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	return &JSONLSink{f: f}, nil
}

func (s *JSONLSink) Write(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("trace sink closed")
	}
	_, err = s.f.Write(append(b, '\n'))
	return err
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// MemorySink buffers events in memory. Test helper.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Write(ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
