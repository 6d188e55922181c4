package chain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

var (
	exactPlaceholder  = regexp.MustCompile(`^\$\{([^{}]+)\}$`)
	inlinePlaceholder = regexp.MustCompile(`\$\{([^{}]+)\}`)
)

// SubstituteBody returns a copy of body in which every string value that is exactly
// "${key}" is replaced with ctx[key], keeping the context value's type. Maps and
// slices are walked recursively. Placeholders with no matching key are left as is,
// and strings that merely contain a placeholder are not touched.
func SubstituteBody(body any, ctx Context) any {
	switch v := body.(type) {
	case string:
		if m := exactPlaceholder.FindStringSubmatch(v); m != nil {
			if val, ok := ctx[m[1]]; ok {
				return val
			}
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = SubstituteBody(item, ctx)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = SubstituteBody(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = SubstituteBody(item, ctx)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = SubstituteBody(item, ctx)
		}
		return out
	default:
		return body
	}
}

// SubstituteString replaces every "${key}" occurrence inside s with the formatted
// value. Unknown keys are left as is. Used for endpoints and headers.
func SubstituteString(s string, ctx Context) string {
	return inlinePlaceholder.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := ctx[key]; ok {
			return formatValue(val)
		}
		return match
	})
}

// formatValue renders a context value for a URL or header. Floats never use
// exponent notation.
func formatValue(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case json.Number:
		return n.String()
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case uint64:
		return strconv.FormatUint(n, 10)
	default:
		return fmt.Sprint(v)
	}
}
