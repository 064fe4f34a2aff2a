package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ExtractJSON isolates the JSON object in an LLM response. It drops
// reasoning blocks and markdown code fences and keeps the text between the
// first '{' and the last '}'.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(thinkRe.ReplaceAllString(text, ""))

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		if len(lines) > 1 {
			text = strings.Join(lines[1:endIdx], "\n")
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// DecodeJSON extracts the JSON object from text and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}
