// Package repair turns untrusted model output into validated JSON.
//
// The algorithm is ordered and the first success wins:
//  1. truncation check (finish reason or structural signs of a cut-off response),
//  2. direct parse,
//  3. the repair chain (DefaultSteps), applied cumulatively and re-validated after every step,
//  4. a json_parse_error carrying a preview of the raw content.
package repair

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

// PreviewLimit bounds the raw content copied into error details.
const PreviewLimit = 500

var truncationHints = []string{
	"reduce max_pages_per_chunk for this dataset so each request covers fewer pages",
	"simplify the extraction schema or split it into smaller schemas",
	"raise the model's maximum output tokens if the provider allows it",
}

// Result is a successfully parsed model response.
type Result struct {
	Value interface{}
	// Text is the JSON text that parsed; it equals the input when no repair was needed.
	Text string
	// RepairedBy names the last repair step applied, or is empty for a direct parse.
	RepairedBy string
}

// Parse validates content returned with finishReason. It returns a truncation_error or
// json_parse_error (*models.ProcessingError) when the content cannot be accepted. An empty reply
// that did not hit the length limit (a blocked or refused response) is a stage_error.
func Parse(content, finishReason string) (*Result, error) {
	if strings.TrimSpace(content) == "" && !IsLengthFinish(finishReason) {
		return nil, models.NewError(models.KindStage, "", fmt.Sprintf("model returned no content (finish reason %q)", finishReason), nil).
			WithDetails(map[string]interface{}{"finish_reason": finishReason})
	}
	if err := CheckTruncation(content, finishReason); err != nil {
		return nil, err
	}
	return Chain(DefaultSteps...)(content)
}

// Chain returns a parser that tries content as-is and then after each cumulative step.
func Chain(steps ...Step) func(string) (*Result, error) {
	return func(content string) (*Result, error) {
		v, firstErr := decode(content)
		if firstErr == nil {
			return &Result{Value: v, Text: content}, nil
		}

		candidate := content
		for _, step := range steps {
			candidate = step.Fn(candidate)
			if v, err := decode(candidate); err == nil {
				return &Result{Value: v, Text: candidate, RepairedBy: step.Name}, nil
			}
		}

		return nil, models.NewError(models.KindJSONParse, "", "model output is not valid JSON after repair", firstErr).
			WithDetails(map[string]interface{}{
				"raw_preview":    Preview(content),
				"content_length": len(content),
				"parser_error":   firstErr.Error(),
			})
	}
}

// Repair returns the JSON text that Parse would accept, without decoding it for the caller.
func Repair(content string) (string, error) {
	res, err := Chain(DefaultSteps...)(content)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// CheckTruncation classifies content as truncated when the provider reports an output-length stop,
// when brackets are unbalanced, or when the text does not end with a closing bracket.
// A length stop wins even if the partial text happens to be valid JSON.
func CheckTruncation(content, finishReason string) error {
	reason := ""
	switch {
	case IsLengthFinish(finishReason):
		reason = "finish_reason_length"
	default:
		body := strings.TrimSuffix(strings.TrimSpace(content), "```")
		body = strings.TrimSpace(body)
		if !balanced(body) {
			reason = "unbalanced_brackets"
		} else if !strings.HasSuffix(body, "}") && !strings.HasSuffix(body, "]") {
			reason = "missing_closing_bracket"
		}
	}
	if reason == "" {
		return nil
	}
	return models.NewError(models.KindTruncation, "", "model output was truncated", nil).
		WithDetails(map[string]interface{}{
			"reason":         reason,
			"finish_reason":  finishReason,
			"raw_preview":    Preview(content),
			"content_length": len(content),
			"hints":          truncationHints,
		})
}

// IsLengthFinish reports whether a provider finish reason means the output-length limit was hit.
func IsLengthFinish(finishReason string) bool {
	switch strings.ToLower(strings.TrimSpace(finishReason)) {
	case "length", "max_tokens", "maxtokens", "finishreasonmaxtokens":
		return true
	}
	return false
}

// balanced counts brackets outside of quoted strings. An unterminated double-quoted string also
// counts as unbalanced; an unmatched single quote is read as an apostrophe.
func balanced(s string) bool {
	var braces, brackets int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			j := skipString(s, i)
			if j >= len(s) && (j-1 <= i || s[j-1] != '"' || isEscaped(s, j-1)) {
				return false
			}
			i = j - 1
		case '\'':
			if j, ok := skipSingleQuoted(s, i); ok {
				i = j - 1
			}
		case '{':
			braces++
		case '}':
			braces--
		case '[':
			brackets++
		case ']':
			brackets--
		}
		if braces < 0 || brackets < 0 {
			return false
		}
	}
	return braces == 0 && brackets == 0
}

// skipSingleQuoted returns the index just past the single-quoted span starting at i.
func skipSingleQuoted(s string, i int) (int, bool) {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '\'':
			return j + 1, true
		}
	}
	return i + 1, false
}

func isEscaped(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func decode(s string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Preview returns at most PreviewLimit runes of s.
func Preview(s string) string {
	if utf8.RuneCountInString(s) <= PreviewLimit {
		return s
	}
	r := []rune(s)
	return string(r[:PreviewLimit]) + "..."
}
