package qa

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/carebrief/internal/agent/core"
)

// Prompt is one evaluation case.
type Prompt struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	ExpectInvalid bool   `json:"expect_invalid"`
}

// Runner abstracts the pipeline for the harness.
type Runner interface {
	Process(ctx context.Context, question string) (core.RunResult, error)
}

// CaseResult is the outcome of one evaluation case.
type CaseResult struct {
	ID     string
	Passed bool
	Errors []string
}

// Report aggregates an evaluation run.
type Report struct {
	Total  int
	Passed int
	Cases  []CaseResult
}

// Harness drives the pipeline over a prompt file and validates each
// output against the contract.
type Harness struct {
	runner Runner
	logger *log.Logger
	now    func() time.Time
}

func NewHarness(runner Runner) *Harness {
	return &Harness{
		runner: runner,
		logger: log.New(log.Writer(), "[EVAL] ", log.LstdFlags),
		now:    time.Now,
	}
}

// LoadPrompts reads one JSON prompt per line, skipping blank lines.
func LoadPrompts(path string) ([]Prompt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var prompts []Prompt
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var p Prompt
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return nil, fmt.Errorf("prompt line %d: %w", line, err)
		}
		if p.Question == "" {
			return nil, fmt.Errorf("prompt line %d: question required", line)
		}
		prompts = append(prompts, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return prompts, nil
}

// Run executes every prompt sequentially. Pipeline crashes fail the
// case but never abort the evaluation.
func (h *Harness) Run(ctx context.Context, prompts []Prompt) Report {
	report := Report{Total: len(prompts)}
	for _, p := range prompts {
		cr := CaseResult{ID: p.ID}

		result, err := h.runner.Process(ctx, p.Question)
		if err != nil {
			cr.Errors = []string{fmt.Sprintf("runtime error: %v", err)}
		} else {
			cr.Errors = ValidateRunResult(result, p.ExpectInvalid, h.now())
		}
		cr.Passed = len(cr.Errors) == 0
		if cr.Passed {
			report.Passed++
		}
		report.Cases = append(report.Cases, cr)
	}
	return report
}

// Render writes the human-readable report.
func (r Report) Render(w io.Writer) {
	fmt.Fprintf(w, "\nEVAL RESULTS: %d/%d passed\n\n", r.Passed, r.Total)
	for _, c := range r.Cases {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "[%s] %s\n", status, c.ID)
		for i, e := range c.Errors {
			if i == 10 {
				break
			}
			fmt.Fprintf(w, "  - %s\n", e)
		}
		fmt.Fprintln(w)
	}
}
