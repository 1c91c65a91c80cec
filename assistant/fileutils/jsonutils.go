package fileutils

import (
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
)

// DecodeModelJSON unmarshals JSON from a model response, with a small amount of robustness
// for cases where the model wraps the JSON in prose, code fences, or trailing commentary.
// The first balanced object that decodes into v wins.
func DecodeModelJSON(outputText string, v any) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}

	// Fast path: valid JSON as-is.
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	var lastErr error
	for start := strings.IndexByte(s, '{'); start != -1; {
		sub, ok := balancedObject(s[start:])
		if !ok {
			break
		}
		err := json.Unmarshal([]byte(sub), v)
		if err == nil {
			return nil
		}
		lastErr = err
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}
	if lastErr != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON (len=%d): %w", len(s), lastErr)
	}
	return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
}

// balancedObject returns the prefix of s (which must start with '{') up to its matching '}'.
// Braces inside string literals are ignored.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
				return s[:i+1], true
			}
		}
	}
	return "", false
}
