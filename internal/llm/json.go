package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/verity/internal/model"
)

// DecodeJSON decodes a model reply into T. Markdown code fences and any
// prose around the outermost JSON object are stripped first. A reply that
// does not fit T returns the zero value and an error wrapping model.ErrParse.
func DecodeJSON[T any](raw string) (T, error) {
	var out T
	body := extractJSON(raw)
	if body == "" {
		return out, fmt.Errorf("no JSON object in reply: %w", model.ErrParse)
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%v: %w", err, model.ErrParse)
	}
	return out, nil
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}
