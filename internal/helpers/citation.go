package helpers

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/carebrief/internal/agent/core"
)

// citationConfig controls formatting behaviour.
type citationConfig struct {
	maxSnippet int
}

// CitationOption configures citation formatting.
type CitationOption func(*citationConfig)

// WithMaxSnippetLength truncates snippets to the provided length (default 180).
func WithMaxSnippetLength(n int) CitationOption {
	return func(cfg *citationConfig) {
		if n > 0 {
			cfg.maxSnippet = n
		}
	}
}

// FormatCitation renders one cited passage in a consistent layout:
// [n] source (page P, chunk C) — "Snippet…"
// n is the 1-based citation index the output referred to.
func FormatCitation(n int, p core.Passage, opts ...CitationOption) string {
	cfg := citationConfig{maxSnippet: 180}
	for _, opt := range opts {
		opt(&cfg)
	}

	source := strings.TrimSpace(p.Source)
	if source == "" {
		source = "unknown"
	}

	parts := []string{
		fmt.Sprintf("[%d]", n),
		source,
		fmt.Sprintf("(page %d, chunk %s)", p.Page, p.ChunkID),
	}
	if snippet := formatSnippet(p.Content, cfg.maxSnippet); snippet != "" {
		parts = append(parts, "— "+snippet)
	}
	return strings.Join(parts, " ")
}

// FormatCitations renders the cited subset of a passage sequence,
// skipping out-of-range indices.
func FormatCitations(passages []core.Passage, citations []int, opts ...CitationOption) []string {
	if len(citations) == 0 {
		return nil
	}
	out := make([]string, 0, len(citations))
	for _, n := range citations {
		idx := n - 1
		if idx < 0 || idx >= len(passages) {
			continue
		}
		out = append(out, FormatCitation(n, passages[idx], opts...))
	}
	return out
}

func formatSnippet(snippet string, limit int) string {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return ""
	}
	// Collapse whitespace.
	snippet = strings.Join(strings.Fields(snippet), " ")
	if limit > 0 && len(snippet) > limit {
		snippet = snippet[:limit]
		if !strings.HasSuffix(snippet, "…") {
			snippet += "…"
		}
	}
	if !strings.HasPrefix(snippet, "\"") {
		snippet = `"` + snippet
	}
	if !strings.HasSuffix(snippet, "\"") {
		snippet = snippet + `"`
	}
	return snippet
}
