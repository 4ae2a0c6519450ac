package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
}

// stripFences removes markdown code fences models like to add
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// extractJSON returns the outermost JSON array or object in text
func extractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "[{")
	if start == -1 {
		return "", fmt.Errorf("no JSON found in response")
	}

	closing := "}"
	if text[start] == '[' {
		closing = "]"
	}
	end := strings.LastIndex(text, closing)
	if end == -1 || end < start {
		return "", fmt.Errorf("invalid JSON in response")
	}
	return text[start : end+1], nil
}

// parseCandidates parses a model response holding an array of expenses,
// a single expense object, or an {"expenses": [...]} wrapper.
func parseCandidates(text string) ([]Candidate, error) {
	raw, err := extractJSON(stripFences(text))
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	if obj, ok := decoded.(map[string]any); ok {
		if list, ok := obj["expenses"].([]any); ok {
			decoded = list
		} else {
			decoded = []any{obj}
		}
	}

	if err := validateCandidates(decoded); err != nil {
		return nil, err
	}

	// Round-trip through JSON to get typed candidates
	normalized, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("marshaling candidates: %w", err)
	}
	candidates := make([]Candidate, 0)
	if err := json.Unmarshal(normalized, &candidates); err != nil {
		return nil, fmt.Errorf("unmarshaling candidates: %w", err)
	}

	for i := range candidates {
		candidates[i].Description = strings.TrimSpace(candidates[i].Description)
		candidates[i].Category = strings.TrimSpace(candidates[i].Category)
		candidates[i].Account = strings.TrimSpace(candidates[i].Account)
		candidates[i].Date = normalizeDate(candidates[i].Date)
	}

	return candidates, nil
}

// parseSingleCandidate parses a response that must describe exactly one expense
func parseSingleCandidate(text string) (*Candidate, error) {
	candidates, err := parseCandidates(text)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no expense found in response")
	}
	return &candidates[0], nil
}

// normalizeDate converts common date layouts to YYYY-MM-DD. Dates in
// any other layout are kept as read for the user to correct.
func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return ""
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, date); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return date
}
