package extractor

import (
	"encoding/json"
	"strings"
)

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first. Braces inside string literals are ignored.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}

	// normalize newlines
	s = strings.ReplaceAll(s, "\r\n", "\n")

	// Remove markdown fences (commonly output by LLMs)
	for _, r := range []string{"```json", "```JSON", "```"} {
		s = strings.ReplaceAll(s, r, "")
	}

	for start := strings.Index(s, "{"); start != -1; {
		end := matchBrace(s, start)
		if end == -1 {
			return ""
		}
		candidate := strings.TrimSpace(s[start : end+1])
		if json.Valid([]byte(candidate)) {
			return candidate
		}
		next := strings.Index(s[start+1:], "{")
		if next == -1 {
			return ""
		}
		start += next + 1
	}
	return ""
}

// matchBrace returns the index of the brace closing s[start], or -1.
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
