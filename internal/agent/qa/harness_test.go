package qa

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammad-safakhou/carebrief/internal/agent/core"
)

var evalNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func goodRun() core.RunResult {
	return core.RunResult{
		RunID:    "run-1",
		Question: "Explain heart failures and how to mitigate them",
		Verified: core.VerifiedResult{
			IsRelevant:       true,
			IsGrounded:       true,
			ExecutiveSummary: "Heart failure management relies on monitoring and medication adherence.",
			Actions: []core.VerifiedAction{
				{Task: "Share monitoring protocol", Owner: "care.team@clinic.org", DueDate: "2026-03-09", Confidence: core.ConfidenceHigh},
				{Task: "Schedule education session", Owner: "care.team@clinic.org", DueDate: "2026-03-09", Confidence: core.ConfidenceMedium},
			},
			CitationsUsed: []int{1},
		},
		Email:   "To: care.team@clinic.org\nSubject: Heart failure mitigation\n\nHi",
		Sources: "Sources\n- hf-guide.pdf (page 2, chunk c2)",
	}
}

func TestValidateRunResultPasses(t *testing.T) {
	if errs := ValidateRunResult(goodRun(), false, evalNow); len(errs) != 0 {
		t.Fatalf("unexpected violations: %v", errs)
	}
}

func TestValidateRunResultCatchesViolations(t *testing.T) {
	r := goodRun()
	r.Verified.Actions = r.Verified.Actions[:1]
	r.Verified.Actions[0].DueDate = "2020-01-01"
	r.Verified.Actions[0].Confidence = "certain"
	r.Sources = ""
	r.Verified.CitationsUsed = nil

	errs := ValidateRunResult(r, false, evalNow)
	if len(errs) < 4 {
		t.Fatalf("expected multiple violations, got %v", errs)
	}
}

func TestValidateRunResultExpectInvalid(t *testing.T) {
	r := core.RunResult{Invalid: core.InvalidMarker}
	if errs := ValidateRunResult(r, true, evalNow); len(errs) != 0 {
		t.Fatalf("unexpected violations: %v", errs)
	}
	if errs := ValidateRunResult(goodRun(), true, evalNow); len(errs) == 0 {
		t.Fatalf("expected violation when invalid marker is missing")
	}
	if errs := ValidateRunResult(r, false, evalNow); len(errs) == 0 {
		t.Fatalf("expected violation when run is unexpectedly invalid")
	}
}

type scriptedRunner map[string]core.RunResult

func (s scriptedRunner) Process(ctx context.Context, question string) (core.RunResult, error) {
	return s[question], nil
}

func TestHarnessRun(t *testing.T) {
	runner := scriptedRunner{
		"good":    goodRun(),
		"invalid": {Invalid: core.InvalidMarker},
		"broken":  {},
	}
	h := NewHarness(runner)
	h.now = func() time.Time { return evalNow }

	report := h.Run(context.Background(), []Prompt{
		{ID: "q1", Question: "good"},
		{ID: "q2", Question: "invalid", ExpectInvalid: true},
		{ID: "q3", Question: "broken"},
	})
	if report.Total != 3 || report.Passed != 2 {
		t.Fatalf("report = %d/%d, want 2/3", report.Passed, report.Total)
	}
	if report.Cases[2].Passed {
		t.Fatalf("malformed run must fail validation")
	}
}

func TestLoadPrompts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.jsonl")
	content := `{"id": "q1", "question": "Explain heart failures"}

{"id": "q2", "question": "Predict this patient's readmission", "expect_invalid": true}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	prompts, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("LoadPrompts: %v", err)
	}
	if len(prompts) != 2 || !prompts[1].ExpectInvalid {
		t.Fatalf("prompts = %+v", prompts)
	}
}

func TestLoadPromptsRejectsMissingQuestion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.jsonl")
	if err := os.WriteFile(path, []byte(`{"id": "q1"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadPrompts(path); err == nil {
		t.Fatalf("expected error for missing question")
	}
}

func TestValidateTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	lines := `{"run_id":"r1","stage":"planner","event":"start"}
{"run_id":"r1","stage":"planner","event":"end"}
{"run_id":"other","stage":"writer","event":"start"}
{"run_id":"r1","stage":"research","event":"start"}
{"run_id":"r1","stage":"research","event":"end"}
{"run_id":"r1","stage":"writer","event":"start"}
{"run_id":"r1","stage":"writer","event":"end"}
{"run_id":"r1","stage":"verifier","event":"start"}
{"run_id":"r1","stage":"verifier","event":"end"}
`
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ValidateTraceFile(path, "r1"); err != nil {
		t.Fatalf("ValidateTraceFile: %v", err)
	}
	if err := ValidateTraceFile(path, "other"); err == nil {
		t.Fatalf("expected incomplete trace for run 'other'")
	}
}
