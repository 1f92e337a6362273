package classify

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a model response holds no JSON object.
var ErrNoJSON = errors.New("classify: no JSON object in response")

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// extractJSON returns the first complete JSON object in s, tolerating
// markdown fences and prose around it.
func extractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if obj := firstObject(s); obj != "" && json.Valid([]byte(obj)) {
		return obj, nil
	}
	return "", ErrNoJSON
}

// firstObject scans for a balanced {...} starting at the first '{',
// ignoring braces inside strings.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
