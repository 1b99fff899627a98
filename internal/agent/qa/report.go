package qa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type reportFile struct {
	Timestamp string       `json:"timestamp"`
	Dataset   string       `json:"dataset"`
	Total     int          `json:"total"`
	Passed    int          `json:"passed"`
	Cases     []CaseResult `json:"cases"`
}

// WriteJSON persists the report as a JSON file.
func (r Report) WriteJSON(path, dataset string) error {
	rec := reportFile{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Dataset:   dataset,
		Total:     r.Total,
		Passed:    r.Passed,
		Cases:     r.Cases,
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// WriteMarkdown persists the report as a markdown summary table.
func (r Report) WriteMarkdown(path, dataset string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Evaluation report\n\n")
	fmt.Fprintf(&b, "- Dataset: %s\n", dataset)
	fmt.Fprintf(&b, "- Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Result: %d/%d passed\n\n", r.Passed, r.Total)
	fmt.Fprintf(&b, "| Case | Status | Violations |\n|---|---|---|\n")
	for _, c := range r.Cases {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", c.ID, status, strings.Join(c.Errors, "; "))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
