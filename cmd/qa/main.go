package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mohammad-safakhou/carebrief/internal/agent/qa"
)

type checkResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

func main() {
	var runPath string
	var tracePath string
	var outDir string
	flag.StringVar(&runPath, "run", "", "path to a stored run record JSON")
	flag.StringVar(&tracePath, "trace", "", "path to the JSONL trace sink (optional)")
	flag.StringVar(&outDir, "out", "todos/qa", "output dir for results")
	flag.Parse()

	if runPath == "" {
		fmt.Fprintln(os.Stderr, "usage: qa -run <run.json> [-trace <run.jsonl>]")
		os.Exit(2)
	}

	results := runChecks(runPath, tracePath)
	allPass := true
	for _, r := range results {
		if !r.Passed {
			allPass = false
		}
	}
	fmt.Printf("QA results: %v\n", results)

	if err := writeReport(outDir, results); err != nil {
		fmt.Fprintf(os.Stderr, "writing report: %v\n", err)
	}
	if !allPass {
		os.Exit(1)
	}
}

// runChecks validates the run record and, when a trace path is given,
// trace completeness for that run.
func runChecks(runPath, tracePath string) []checkResult {
	results := []checkResult{}

	if err := qa.ValidateRunFile(runPath); err != nil {
		results = append(results, checkResult{Name: "run", Passed: false, Error: err.Error()})
	} else {
		results = append(results, checkResult{Name: "run", Passed: true})
	}

	if tracePath == "" {
		return results
	}
	runID, err := loadRunID(runPath)
	if err != nil {
		return append(results, checkResult{Name: "trace", Passed: false, Error: err.Error()})
	}
	if err := qa.ValidateTraceFile(tracePath, runID); err != nil {
		return append(results, checkResult{Name: "trace", Passed: false, Error: err.Error()})
	}
	return append(results, checkResult{Name: "trace", Passed: true})
}

func loadRunID(runPath string) (string, error) {
	b, err := os.ReadFile(runPath)
	if err != nil {
		return "", err
	}
	var rec struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return "", fmt.Errorf("invalid run json: %w", err)
	}
	if rec.RunID == "" {
		return "", fmt.Errorf("run record has no run_id")
	}
	return rec.RunID, nil
}

func writeReport(outDir string, results []checkResult) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	rec := map[string]interface{}{
		"ts":      time.Now().UTC().Format(time.RFC3339),
		"type":    "qa_run",
		"results": results,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("qa_%d.jsonl", time.Now().Unix())
	return os.WriteFile(filepath.Join(outDir, name), append(b, '\n'), 0o644)
}
