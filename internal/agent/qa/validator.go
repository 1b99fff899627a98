package qa

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/carebrief/internal/agent/core"
)

// ValidateRunResult checks a completed run against the output
// contract. It returns one message per violation; an empty slice means
// the run conforms.
func ValidateRunResult(result core.RunResult, expectInvalid bool, today time.Time) []string {
	var errors []string

	if expectInvalid {
		if result.Invalid != core.InvalidMarker {
			errors = append(errors, fmt.Sprintf("expected the invalid marker, got %q", result.Invalid))
		}
		return errors
	}

	if result.Invalid != "" {
		return append(errors, fmt.Sprintf("expected valid output, got invalid marker: %q", result.Invalid))
	}

	v := result.Verified
	summary := strings.TrimSpace(v.ExecutiveSummary)
	if summary == "" {
		errors = append(errors, "missing executive summary")
	} else if n := len(strings.Fields(summary)); n > 150 {
		errors = append(errors, fmt.Sprintf("executive summary too long: %d words", n))
	}

	email := strings.TrimSpace(result.Email)
	if email == "" || !strings.Contains(email, "To:") || !strings.Contains(email, "Subject:") {
		errors = append(errors, "email missing or not formatted with To:/Subject:")
	}

	if n := len(v.Actions); n < 2 || n > 4 {
		errors = append(errors, fmt.Sprintf("expected 2-4 actions, got %d", n))
	}
	day := today.Format("2006-01-02")
	for i, a := range v.Actions {
		if strings.TrimSpace(a.Task) == "" {
			errors = append(errors, fmt.Sprintf("action %d missing task", i+1))
		}
		if strings.TrimSpace(a.Owner) == "" {
			errors = append(errors, fmt.Sprintf("action %d missing owner", i+1))
		}
		switch a.Confidence {
		case core.ConfidenceHigh, core.ConfidenceMedium, core.ConfidenceLow:
		default:
			errors = append(errors, fmt.Sprintf("action %d confidence invalid: %q", i+1, a.Confidence))
		}
		due, err := time.Parse("2006-01-02", a.DueDate)
		if err != nil {
			errors = append(errors, fmt.Sprintf("action %d due_date not ISO YYYY-MM-DD: %q", i+1, a.DueDate))
		} else if due.Format("2006-01-02") < day {
			errors = append(errors, fmt.Sprintf("action %d due_date is in the past: %q", i+1, a.DueDate))
		}
	}

	sources := strings.TrimSpace(result.Sources)
	if !strings.HasPrefix(sources, "Sources") {
		errors = append(errors, "missing sources block")
	} else if !strings.Contains(sources, "-") {
		errors = append(errors, "sources block does not list any items")
	}

	if len(v.CitationsUsed) == 0 {
		errors = append(errors, "missing citations_used (expected at least one citation)")
	}

	return errors
}

// ValidateRunFile loads a stored run record JSON and validates it as a
// non-invalid run.
func ValidateRunFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var result core.RunResult
	if err := json.Unmarshal(b, &result); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if errs := ValidateRunResult(result, result.Invalid != "", time.Now()); len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateTraceFile loads a JSONL trace sink and checks trace
// completeness for the given run: a start and an end event per stage,
// in stage order.
func ValidateTraceFile(path, runID string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	stageOrder := []string{core.StagePlanner, core.StageResearch, core.StageWriter, core.StageVerifier}
	starts := make([]string, 0, len(stageOrder))
	ends := make(map[string]int)

	for _, line := range strings.Split(string(b), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev struct {
			RunID string `json:"run_id"`
			Stage string `json:"stage"`
			Event string `json:"event"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return fmt.Errorf("invalid trace line: %w", err)
		}
		if ev.RunID != runID {
			continue
		}
		switch ev.Event {
		case "start":
			starts = append(starts, ev.Stage)
		case "end":
			ends[ev.Stage]++
		}
	}

	if len(starts) != len(stageOrder) {
		return fmt.Errorf("expected %d stage starts, got %d", len(stageOrder), len(starts))
	}
	for i, stage := range stageOrder {
		if starts[i] != stage {
			return fmt.Errorf("stage order %v, want %v", starts, stageOrder)
		}
		if ends[stage] == 0 {
			return fmt.Errorf("stage %s has no end event", stage)
		}
	}
	return nil
}
