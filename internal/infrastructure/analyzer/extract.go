package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"quickdowntime/internal/core/domain"
)

// ErrNoJSON is returned when model output contains no parsable JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

// ExtractJSON pulls one JSON object out of free-form model output. Markdown
// fences are stripped, the whole text is tried first, then the first balanced
// {...} span.
func ExtractJSON(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	if json.Valid([]byte(text)) && strings.HasPrefix(text, "{") {
		return []byte(text), nil
	}

	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end := matchBrace(text, start); end > start {
			candidate := []byte(text[start : end+1])
			if json.Valid(candidate) {
				return candidate, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ErrNoJSON
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

type rawVerdict struct {
	RootCause             string          `json:"root_cause"`
	IsMaintenanceRequired json.RawMessage `json:"is_maintenance_required"`
	RecommendedActions    json.RawMessage `json:"recommended_actions"`
	PreventiveMeasures    json.RawMessage `json:"preventive_measures"`
	Severity              string          `json:"severity"`
	PredictedNextFailure  json.RawMessage `json:"predicted_next_failure"`
	ConfidenceScore       json.RawMessage `json:"confidence_score"`
}

// ParseVerdict decodes model output into a verdict. Models answer loosely:
// confidence may be "85%" or 0.85, booleans may be strings, lists may be a
// single string. Missing fields get the same defaults the dashboard expects.
func ParseVerdict(text string) (*domain.Verdict, error) {
	data, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	var raw rawVerdict
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}

	predicted := looseString(raw.PredictedNextFailure)
	if predicted == "" {
		predicted = "unknown"
	}

	return &domain.Verdict{
		RootCause:             strings.TrimSpace(raw.RootCause),
		IsMaintenanceRequired: looseBool(raw.IsMaintenanceRequired),
		RecommendedActions:    looseList(raw.RecommendedActions),
		PreventiveMeasures:    looseList(raw.PreventiveMeasures),
		Severity:              domain.NormalizeSeverity(raw.Severity),
		PredictedNextFailure:  predicted,
		ConfidenceScore:       looseConfidence(raw.ConfidenceScore),
	}, nil
}

func looseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func looseBool(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	switch strings.ToLower(looseString(raw)) {
	case "true", "yes", "y", "1":
		return true
	}
	return false
}

func looseList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	if s := looseString(raw); s != "" && s != "null" {
		return []string{s}
	}
	return []string{}
}

// looseConfidence returns a score in [0, 100]. Fractions up to 1 are read as ratios.
func looseConfidence(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		s := strings.TrimSuffix(looseString(raw), "%")
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if perr != nil {
			return 0
		}
		f = parsed
	}
	if f > 0 && f <= 1 {
		f *= 100
	}
	switch {
	case f < 0:
		return 0
	case f > 100:
		return 100
	}
	return f
}
