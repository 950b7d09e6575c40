package ai

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls the first JSON object out of a model response. Models
// wrap JSON in prose and code fences inconsistently, so three strategies
// run in order:
//
//  1. a ```json fenced block,
//  2. any ``` fenced block whose content starts with '{',
//  3. brace-depth counting from the first '{' in the raw text.
//
// Returns nil, false when nothing parses.
func ExtractJSON(content string) (map[string]interface{}, bool) {
	if candidate, ok := fencedBlock(content, "```json"); ok {
		if m, ok := parseObject(candidate); ok {
			return m, true
		}
	}

	if candidate, ok := fencedBlock(content, "```"); ok {
		trimmed := strings.TrimSpace(candidate)
		if strings.HasPrefix(trimmed, "{") {
			if m, ok := parseObject(trimmed); ok {
				return m, true
			}
		}
	}

	if candidate, ok := braceDelimited(content); ok {
		if m, ok := parseObject(candidate); ok {
			return m, true
		}
	}

	return nil, false
}

// fencedBlock returns the content of the first fence opened by marker.
func fencedBlock(content, marker string) (string, bool) {
	start := strings.Index(content, marker)
	if start < 0 {
		return "", false
	}
	rest := content[start+len(marker):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// braceDelimited scans forward from the first '{' counting brace depth
// until it returns to zero. String literals and escapes are honored so
// braces inside values do not break the count.
func braceDelimited(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1], true
				}
			}
		}
	}
	return "", false
}

func parseObject(s string) (map[string]interface{}, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &m); err != nil {
		return nil, false
	}
	return m, true
}
