package repair

import (
	"strings"
)

// Step is a pure text transform applied to malformed model output.
type Step struct {
	Name string
	Fn   func(string) string
}

// DefaultSteps is the repair chain, in the order it is applied.
var DefaultSteps = []Step{
	{Name: "strip_code_fences", Fn: StripCodeFences},
	{Name: "trim_to_json", Fn: TrimToJSON},
	{Name: "normalize_quotes", Fn: NormalizeQuotes},
	{Name: "remove_trailing_commas", Fn: RemoveTrailingCommas},
	{Name: "quote_bare_keys", Fn: QuoteBareKeys},
}

// StripCodeFences removes a surrounding markdown code fence, with or without a language tag.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && isFenceTag(s[:nl]) {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
			s = strings.TrimPrefix(s, "JSON")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// TrimToJSON keeps the text between the first opening bracket and the last matching closing
// bracket, dropping any prose around the JSON value.
func TrimToJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closing := "}"
	if s[start] == '[' {
		closing = "]"
	}
	end := strings.LastIndex(s, closing)
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}

// NormalizeQuotes rewrites single-quoted keys and values as double-quoted JSON strings.
// Apostrophes inside double-quoted strings are left alone.
func NormalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			j := skipString(s, i)
			b.WriteString(s[i:j])
			i = j - 1
		case '\'':
			b.WriteByte('"')
			j := i + 1
			for ; j < len(s); j++ {
				if s[j] == '\\' && j+1 < len(s) {
					if s[j+1] == '\'' {
						b.WriteByte('\'')
					} else {
						b.WriteByte(s[j])
						b.WriteByte(s[j+1])
					}
					j++
					continue
				}
				if s[j] == '\'' {
					break
				}
				if s[j] == '"' {
					b.WriteString(`\"`)
					continue
				}
				b.WriteByte(s[j])
			}
			b.WriteByte('"')
			i = j
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// RemoveTrailingCommas drops commas that directly precede a closing bracket.
func RemoveTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			j := skipString(s, i)
			b.WriteString(s[i:j])
			i = j - 1
			continue
		}
		if c == ',' {
			k := i + 1
			for k < len(s) && isSpace(s[k]) {
				k++
			}
			if k < len(s) && (s[k] == '}' || s[k] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// QuoteBareKeys wraps unquoted identifier keys in double quotes: {key: 1} -> {"key": 1}.
func QuoteBareKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	expectKey := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			j := skipString(s, i)
			b.WriteString(s[i:j])
			i = j - 1
			expectKey = false
		case c == '{' || c == ',':
			b.WriteByte(c)
			expectKey = true
		case isSpace(c):
			b.WriteByte(c)
		case expectKey && isIdentStart(c):
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			k := j
			for k < len(s) && isSpace(s[k]) {
				k++
			}
			if k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
			} else {
				b.WriteString(s[i:j])
			}
			i = j - 1
			expectKey = false
		default:
			b.WriteByte(c)
			expectKey = false
		}
	}
	return b.String()
}

// skipString returns the index just past the double-quoted string starting at s[i].
func skipString(s string, i int) int {
	j := i + 1
	for j < len(s) {
		switch s[j] {
		case '\\':
			j += 2
			continue
		case '"':
			return j + 1
		}
		j++
	}
	return len(s)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '-' || c >= '0' && c <= '9'
}
