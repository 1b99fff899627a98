package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/carebrief/internal/agent/telemetry"
)

func TestSaveTraceEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := &Store{DB: db}

	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO trace_events (run_id, stage, event, data, ts)`)).
		WithArgs("run-1", "planner", "start", []byte(`{"question":"q"}`), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ev := telemetry.Event{
		Timestamp: ts,
		RunID:     "run-1",
		Stage:     "planner",
		Event:     "start",
		Data:      map[string]interface{}{"question": "q"},
	}
	if err := s.SaveTraceEvent(context.Background(), ev); err != nil {
		t.Fatalf("SaveTraceEvent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetTraceEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	s := &Store{DB: db}

	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT run_id, stage, event, data, ts`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "stage", "event", "data", "ts"}).
			AddRow("run-1", "planner", "start", []byte(`{"question":"q"}`), ts).
			AddRow("run-1", "planner", "end", nil, ts.Add(time.Second)))

	events, err := s.GetTraceEvents(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetTraceEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != "start" || events[0].Data["question"] != "q" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Event != "end" || events[1].Data != nil {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTraceSinkWrites(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	sink := NewTraceSink(&Store{DB: db})
	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO trace_events`)).
		WithArgs("run-1", "writer", "end", nil, ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := sink.Write(telemetry.Event{Timestamp: ts, RunID: "run-1", Stage: "writer", Event: "end"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
