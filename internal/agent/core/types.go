package core

import (
	"context"
	"time"
)

// Stage names used in trace events and model routing.
const (
	StagePlanner  = "planner"
	StageResearch = "research"
	StageWriter   = "writer"
	StageVerifier = "verifier"
)

// InvalidMarker is the single terminal sentence emitted when a request
// cannot be answered from the available evidence or is out of policy
// scope. Downstream consumers branch on its presence and nothing else.
const InvalidMarker = "Invalid: I cannot answer your question because of insufficient data in the provided sources."

// Confidence labels assigned per action item by the verifier.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Passage is the atomic unit of evidence: a retrieved text chunk with
// its source metadata. Passages are read-only once handed to the
// writer; MatchedQuery is set by the research stage.
type Passage struct {
	Content      string `json:"content"`
	Source       string `json:"source"`
	Page         int    `json:"page"`
	ChunkID      string `json:"chunk_id"`
	MatchedQuery string `json:"matched_query,omitempty"`
}

// GradeRow records one binary relevance judgement during research.
type GradeRow struct {
	Query  string `json:"query"`
	Grade  string `json:"grade"` // yes or no
	Source string `json:"source"`
}

// ResearchTrace summarises what the research stage kept and dropped.
type ResearchTrace struct {
	Queries []string   `json:"queries"`
	Kept    int        `json:"kept"`
	Dropped int        `json:"dropped"`
	Rows    []GradeRow `json:"rows"`
}

// ActionItem is a single follow-up task proposed by the writer.
// Confidence is deliberately absent here: it is assigned by the
// verifier after grounding.
type ActionItem struct {
	Task    string `json:"task"`
	Owner   string `json:"owner"`
	DueDate string `json:"due_date"` // YYYY-MM-DD
}

// Draft is the writer's proposed output. CitationsUsed holds 1-based
// indices into the passage sequence the writer actually relied on.
// A non-empty Invalid supersedes every other field.
type Draft struct {
	ExecutiveSummary string       `json:"executive_summary"`
	EmailTo          string       `json:"email_to"`
	EmailSubject     string       `json:"email_subject"`
	EmailBody        string       `json:"email_body"`
	Actions          []ActionItem `json:"actions"`
	CitationsUsed    []int        `json:"citations_used"`
	Invalid          string       `json:"invalid,omitempty"`
}

// VerifiedAction is an action item after grounding verification.
type VerifiedAction struct {
	Task                string `json:"task"`
	Owner               string `json:"owner"`
	DueDate             string `json:"due_date"`
	Confidence          string `json:"confidence"` // high, medium, low
	ConfidenceRationale string `json:"confidence_rationale,omitempty"`
}

// VerifiedResult is the verifier's final record. When Invalid is set
// every content field is empty; otherwise every content field is
// populated. CitationsUsed is always a subset of the draft's.
type VerifiedResult struct {
	IsRelevant       bool             `json:"is_relevant"`
	IsGrounded       bool             `json:"is_grounded"`
	Issues           []string         `json:"issues"`
	ExecutiveSummary string           `json:"executive_summary"`
	EmailTo          string           `json:"email_to"`
	EmailSubject     string           `json:"email_subject"`
	EmailBody        string           `json:"email_body"`
	Actions          []VerifiedAction `json:"actions"`
	CitationsUsed    []int            `json:"citations_used"`
	Invalid          string           `json:"invalid,omitempty"`
}

// RunResult is the full accumulated state record for one pipeline run.
// It is the only contract surrounding code (CLI, HTTP API, eval
// harness) depends on.
type RunResult struct {
	RunID         string         `json:"run_id"`
	Question      string         `json:"question"`
	Plan          []string       `json:"plan"`
	Passages      []Passage      `json:"passages"`
	ResearchTrace ResearchTrace  `json:"research_trace"`
	Draft         Draft          `json:"writer_draft"`
	Verified      VerifiedResult `json:"verified"`
	Email         string         `json:"email"`   // rendered To/Subject/body block
	Sources       string         `json:"sources"` // rendered sources block from citations
	Invalid       string         `json:"invalid,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// LLMProvider is the contract every stage uses to reach a language
// model. Implementations must honour ctx cancellation and apply their
// own per-call timeout.
type LLMProvider interface {
	// Generate generates text using the LLM
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns token usage
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// Embed generates vector embeddings for the provided inputs.
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)

	// GetAvailableModels returns available models
	GetAvailableModels() []string

	// GetModelInfo returns information about a specific model
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost calculates the cost for a given number of tokens
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// ModelInfo contains information about an LLM model
type ModelInfo struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	MaxTokens       int     `json:"max_tokens"`
	CostPer1KInput  float64 `json:"cost_per_1k_input"`
	CostPer1KOutput float64 `json:"cost_per_1k_output"`
	Description     string  `json:"description"`
}

// Retriever fetches the k nearest passages for a query. The index
// itself (construction, ingestion) is an external collaborator.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// GradeCache optionally memoises binary relevance verdicts across
// runs, keyed by (query, passage identity). A nil cache is valid.
type GradeCache interface {
	GetGrade(ctx context.Context, query string, p Passage) (string, bool)
	SetGrade(ctx context.Context, query string, p Passage, grade string)
}
