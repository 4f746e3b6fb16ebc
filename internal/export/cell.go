package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// renderCell converts a flattened value to its CSV text.
func renderCell(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case *Object, []any:
		var buf bytes.Buffer
		if err := writeValue(&buf, v); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// Filename returns "<form_name>_<type>.<format>" in lower case.
func Filename(formName string, t Type, f Format) string {
	return strings.ToLower(fmt.Sprintf("%s_%s.%s", snake(formName), t, f))
}

// snake converts a display name to snake_case: words are split on any
// non-alphanumeric rune and on lower-to-upper case changes.
func snake(name string) string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}

	runes := []rune(name)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()

	if len(words) == 0 {
		return "form"
	}
	return strings.Join(words, "_")
}
