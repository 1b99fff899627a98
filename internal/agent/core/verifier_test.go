package core

import (
	"context"
	"strings"
	"testing"
)

func verifierOK(prompt, model string) (string, error) {
	return `{"is_relevant": true, "is_grounded": true, "issues": [],
		"executive_summary": "Grounded summary.",
		"email_to": "a@b.co", "email_subject": "Update", "email_body": "Body",
		"actions": [{"task": "t", "owner": "o", "due_date": "2026-04-01", "confidence": "HIGH", "confidence_rationale": "explicit"}],
		"citations_used": [1, 2], "invalid": ""}`, nil
}

func TestVerifyPropagatesInvalidDraft(t *testing.T) {
	v := NewVerifier(testConfig(), scriptedLLM{respond: func(prompt, model string) (string, error) {
		t.Fatalf("model must not be called for an invalid draft")
		return "", nil
	}}, testTelemetry(t))

	res, err := v.Verify(context.Background(), "q", nil, Draft{Invalid: InvalidMarker})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Invalid != InvalidMarker {
		t.Fatalf("invalid = %q, want marker", res.Invalid)
	}
	if res.IsRelevant || res.IsGrounded || res.ExecutiveSummary != "" || len(res.Actions) != 0 {
		t.Fatalf("invalid record must carry no content: %+v", res)
	}
}

func TestVerifyFeasibilityGateFiresBeforeGrounding(t *testing.T) {
	v := NewVerifier(testConfig(), scriptedLLM{respond: func(prompt, model string) (string, error) {
		t.Fatalf("model must not be called when the policy gate fires")
		return "", nil
	}}, testTelemetry(t))

	// evidence exists and is cited, the gate must still fire
	draft := Draft{ExecutiveSummary: "s", CitationsUsed: []int{1}}
	res, err := v.Verify(context.Background(),
		"Predict this specific patient's 30-day readmission probability", somePassages(), draft)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Invalid != InvalidMarker {
		t.Fatalf("expected exact invalid marker, got %q", res.Invalid)
	}
}

func TestCheckFeasibilityPatterns(t *testing.T) {
	infeasible := []string{
		"Predict this specific patient's 30-day readmission probability",
		"what is the readmission probability for my patient John",
		"build a personalized treatment plan for Mrs Smith",
		"what's the ROI of this program",
		"estimate the cost-effectiveness of telehealth",
	}
	for _, q := range infeasible {
		if _, bad := checkFeasibility(q); !bad {
			t.Fatalf("expected gate to fire for %q", q)
		}
	}

	feasible := []string{
		"Explain heart failures and how to mitigate them",
		"summarize the discharge protocol for heart failure",
	}
	for _, q := range feasible {
		if reason, bad := checkFeasibility(q); bad {
			t.Fatalf("gate fired for %q: %s", q, reason)
		}
	}
}

func TestVerifyEmptyCitedEvidenceIsInvalid(t *testing.T) {
	v := NewVerifier(testConfig(), scriptedLLM{respond: verifierOK}, testTelemetry(t))

	// citations all out of range, so the evidence subset filters empty
	draft := Draft{ExecutiveSummary: "s", CitationsUsed: []int{9, 10}}
	res, err := v.Verify(context.Background(), "explain heart failures", somePassages(), draft)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Invalid != InvalidMarker {
		t.Fatalf("expected invalid marker, got %q", res.Invalid)
	}
}

func TestVerifyNeverAddsCitations(t *testing.T) {
	v := NewVerifier(testConfig(), scriptedLLM{respond: func(prompt, model string) (string, error) {
		return `{"is_relevant": true, "is_grounded": true, "issues": [],
			"executive_summary": "s", "email_to": "a@b.co", "email_subject": "s", "email_body": "b",
			"actions": [], "citations_used": [1, 2], "invalid": ""}`, nil
	}}, testTelemetry(t))

	draft := Draft{ExecutiveSummary: "s", CitationsUsed: []int{1}}
	res, err := v.Verify(context.Background(), "explain heart failures", somePassages(), draft)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(res.CitationsUsed) != 1 || res.CitationsUsed[0] != 1 {
		t.Fatalf("citations = %v, verifier may only narrow [1]", res.CitationsUsed)
	}
}

func TestVerifyNormalizesConfidence(t *testing.T) {
	v := NewVerifier(testConfig(), scriptedLLM{respond: func(prompt, model string) (string, error) {
		return `{"is_relevant": true, "is_grounded": true, "issues": [],
			"executive_summary": "s", "email_to": "a@b.co", "email_subject": "s", "email_body": "b",
			"actions": [
				{"task": "a", "owner": "o", "due_date": "2026-04-01", "confidence": "HIGH", "confidence_rationale": "r"},
				{"task": "b", "owner": "o", "due_date": "2026-04-01", "confidence": "certain", "confidence_rationale": ""}
			],
			"citations_used": [1], "invalid": ""}`, nil
	}}, testTelemetry(t))

	draft := Draft{ExecutiveSummary: "s", CitationsUsed: []int{1}}
	res, err := v.Verify(context.Background(), "explain heart failures", somePassages(), draft)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Actions[0].Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %q, want high", res.Actions[0].Confidence)
	}
	if res.Actions[1].Confidence != ConfidenceLow || res.Actions[1].ConfidenceRationale == "" {
		t.Fatalf("unknown confidence must degrade to low with a rationale: %+v", res.Actions[1])
	}
}

func TestVerifyNormalizesModelInvalidSentence(t *testing.T) {
	v := NewVerifier(testConfig(), scriptedLLM{respond: func(prompt, model string) (string, error) {
		return `{"is_relevant": false, "is_grounded": false, "issues": ["ungrounded"],
			"executive_summary": "leftover", "email_to": "", "email_subject": "", "email_body": "",
			"actions": [], "citations_used": [],
			"invalid": "Sorry, I cannot answer this."}`, nil
	}}, testTelemetry(t))

	draft := Draft{ExecutiveSummary: "s", CitationsUsed: []int{1}}
	res, err := v.Verify(context.Background(), "explain heart failures", somePassages(), draft)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Invalid != InvalidMarker {
		t.Fatalf("invalid = %q, want the fixed marker", res.Invalid)
	}
	if res.ExecutiveSummary != "" {
		t.Fatalf("invalid record must not keep content fields")
	}
}

func TestTruncateWords(t *testing.T) {
	long := strings.Repeat("word ", 200)
	got := truncateWords(long, 150)
	if n := len(strings.Fields(got)); n != 150 {
		t.Fatalf("expected 150 words, got %d", n)
	}
	if truncateWords("short summary", 150) != "short summary" {
		t.Fatalf("short input must pass through")
	}
}
