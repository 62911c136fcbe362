// Package mask implements the field masking transform for history reports.
package mask

import (
	"fmt"
	"unicode"
)

// Value masks one string value character by character: uppercase letters and
// digits become '#', lowercase letters become '*', everything else
// (punctuation, symbols, whitespace) is left unchanged.
func Value(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case unicode.IsUpper(r) || unicode.IsDigit(r):
			out = append(out, '#')
		case unicode.IsLower(r):
			out = append(out, '*')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// Fields returns a copy of data with the configured fields masked. Non-string
// values are masked on their printed form, so a numeric secret still comes
// out as '#' runs. A nil map stays nil.
func Fields(data map[string]any, fields []string) map[string]any {
	if data == nil || len(fields) == 0 {
		return data
	}
	masked := make(map[string]any, len(data))
	for key, value := range data {
		masked[key] = value
	}
	for _, field := range fields {
		value, ok := masked[field]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			masked[field] = Value(v)
		case nil:
			// nothing to mask
		default:
			masked[field] = Value(fmt.Sprintf("%v", v))
		}
	}
	return masked
}
