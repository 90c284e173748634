package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON pulls a JSON object out of a model response. Preference
// order: the first fenced code block, then the outermost brace pair, then
// the trimmed raw text. Models wrap JSON in prose and fences often enough
// that call sites should never unmarshal a response directly.
func ExtractJSON(raw string) string {
	s := raw
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

// ParseInto extracts the JSON payload from raw and unmarshals it into v.
func ParseInto(raw string, v interface{}) error {
	return json.Unmarshal([]byte(ExtractJSON(raw)), v)
}
