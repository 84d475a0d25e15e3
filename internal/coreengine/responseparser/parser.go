// Package responseparser extracts and repairs the semi-structured JSON the
// scoring provider returns, then normalizes it onto one canonical result
// shape. The provider's output format has drifted across model generations
// and is not reliably well-formed, so parsing is a pipeline of increasingly
// forgiving strategies.
package responseparser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParseFailure means no repair strategy produced valid JSON. The rotation
// loop treats it as a model-format failure: next model, same credential.
var ErrParseFailure = errors.New("response is not parseable JSON")

// Parse turns raw provider text into a JSON object. Strategies, in order:
// strict parse; markdown code-fence stripping; first balanced {...} substring
// extraction; disallowed-control-character removal. Each candidate is also
// retried with trailing commas stripped, since several model generations
// emit them.
func Parse(raw string) (map[string]interface{}, error) {
	candidates := []string{raw}

	unfenced := stripCodeFences(raw)
	if unfenced != raw {
		candidates = append(candidates, unfenced)
	}
	if extracted, ok := extractBalancedObject(unfenced); ok {
		candidates = append(candidates, extracted)
	}
	cleaned := stripControlChars(unfenced)
	if cleaned != unfenced {
		candidates = append(candidates, cleaned)
		if extracted, ok := extractBalancedObject(cleaned); ok {
			candidates = append(candidates, extracted)
		}
	}

	for _, candidate := range candidates {
		for _, attempt := range []string{candidate, stripTrailingCommas(candidate)} {
			var parsed map[string]interface{}
			if err := json.Unmarshal([]byte(attempt), &parsed); err == nil {
				return parsed, nil
			}
		}
	}
	return nil, fmt.Errorf("%w (tried %d candidates)", ErrParseFailure, len(candidates))
}

// stripCodeFences removes a wrapping markdown fence such as ```json ... ```.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop an optional language tag on the fence line.
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine == "json" || firstLine == "JSON" || firstLine == "" {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// extractBalancedObject finds the first balanced {...} substring using
// bracket matching that is aware of JSON string literals.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// stripControlChars removes control characters that JSON forbids inside
// documents, preserving newline, tab and carriage return.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// stripTrailingCommas drops commas that directly precede a closing brace or
// bracket, outside string literals.
func stripTrailingCommas(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			sb.WriteByte(ch)
			continue
		}
		switch ch {
		case '"':
			inString = true
			sb.WriteByte(ch)
		case ',':
			// Look past whitespace; drop the comma when a closer follows.
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
			sb.WriteByte(ch)
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}
