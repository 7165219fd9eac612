package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when the model produced no content.
var ErrEmptyResponse = errors.New("empty model response")

// ParseJSONInto decodes a JSON response from an LLM into v, stripping a
// surrounding markdown code fence if present.
func ParseJSONInto(text string, v any) error {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" {
		return ErrEmptyResponse
	}
	return json.Unmarshal([]byte(text), v)
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	if endIdx < 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}
