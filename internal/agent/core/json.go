package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSONBlock pulls the first balanced JSON value opening with
// open and closing with close out of raw LLM output. Models routinely
// wrap JSON in prose or markdown fences; this scans for the first
// balanced block and ignores everything around it. String escapes are
// respected so braces inside string values do not break the balance.
func extractJSONBlock(text string, open, close byte) (string, error) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", fmt.Errorf("no '%c' found in response", open)
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced '%c' in response", open)
}

// decodeJSONObject extracts the first JSON object from raw model
// output and unmarshals it into v.
func decodeJSONObject(text string, v interface{}) error {
	block, err := extractJSONBlock(text, '{', '}')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(block), v); err != nil {
		return fmt.Errorf("parsing model output: %w", err)
	}
	return nil
}

// decodeJSONArray extracts the first JSON array from raw model output
// and unmarshals it into v.
func decodeJSONArray(text string, v interface{}) error {
	block, err := extractJSONBlock(text, '[', ']')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(block), v); err != nil {
		return fmt.Errorf("parsing model output: %w", err)
	}
	return nil
}
