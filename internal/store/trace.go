package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/carebrief/internal/agent/telemetry"
)

// SaveTraceEvent appends one trace event row for a run.
func (s *Store) SaveTraceEvent(ctx context.Context, ev telemetry.Event) error {
	var data interface{}
	if ev.Data != nil {
		b, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal trace data: %w", err)
		}
		data = b
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO trace_events (run_id, stage, event, data, ts)
VALUES ($1,$2,$3,$4,$5)
`, ev.RunID, ev.Stage, ev.Event, data, ev.Timestamp)
	return err
}

// GetTraceEvents returns all trace events for a run in record order.
func (s *Store) GetTraceEvents(ctx context.Context, runID string) ([]telemetry.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, stage, event, data, ts
FROM trace_events
WHERE run_id = $1
ORDER BY id
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var ev telemetry.Event
		var data []byte
		if err := rows.Scan(&ev.RunID, &ev.Stage, &ev.Event, &data, &ev.Timestamp); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, fmt.Errorf("unmarshal trace data: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// TraceSink persists trace events to Postgres as they are recorded.
type TraceSink struct {
	store *Store
}

func NewTraceSink(st *Store) *TraceSink { return &TraceSink{store: st} }

func (s *TraceSink) Write(ev telemetry.Event) error {
	return s.store.SaveTraceEvent(context.Background(), ev)
}

func (s *TraceSink) Close() error { return nil }
