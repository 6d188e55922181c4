// internal/chain/extract.go
package chain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/xkilldash9x/qaframe/internal/apiclient"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// Extractor pulls named values out of a successful response. Its output is merged
// into the chain context.
type Extractor func(resp *apiclient.Response) (map[string]any, error)

// Validator accepts or rejects a response. A nil error passes the step.
type Validator func(resp *apiclient.Response) error

// JSONPaths extracts one value per context key from a JSON body using gjson paths.
// A path that does not exist fails the step. Numbers are kept as json.Number so ids
// survive substitution digit for digit.
func JSONPaths(paths map[string]string) Extractor {
	return func(resp *apiclient.Response) (map[string]any, error) {
		out := make(map[string]any, len(paths))
		for _, key := range sortedKeys(paths) {
			res := resp.Get(paths[key])
			if !res.Exists() {
				return nil, qaerr.API(qaerr.ErrCodeExtractionFailed, "chain",
					fmt.Sprintf("json path %q for %q not found in response", paths[key], key), nil)
			}
			out[key] = jsonValue(res)
		}
		return out, nil
	}
}

// XMLPaths extracts element text from an XML body using etree paths. A path ending in
// "/@name" reads that attribute of the selected element instead.
func XMLPaths(paths map[string]string) Extractor {
	return func(resp *apiclient.Response) (map[string]any, error) {
		doc, err := resp.XML()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(paths))
		for _, key := range sortedKeys(paths) {
			path, attr := paths[key], ""
			if i := strings.LastIndex(path, "/@"); i >= 0 {
				path, attr = path[:i], path[i+2:]
			}
			el := doc.FindElement(path)
			if el == nil {
				return nil, qaerr.API(qaerr.ErrCodeExtractionFailed, "chain",
					fmt.Sprintf("xml path %q for %q not found in response", paths[key], key), nil)
			}
			if attr == "" {
				out[key] = strings.TrimSpace(el.Text())
				continue
			}
			a := el.SelectAttr(attr)
			if a == nil {
				return nil, qaerr.API(qaerr.ErrCodeExtractionFailed, "chain",
					fmt.Sprintf("attribute %q missing at %q for %q", attr, path, key), nil)
			}
			out[key] = a.Value
		}
		return out, nil
	}
}

// Paths picks XMLPaths or JSONPaths based on the response body.
func Paths(paths map[string]string) Extractor {
	jsonEx, xmlEx := JSONPaths(paths), XMLPaths(paths)
	return func(resp *apiclient.Response) (map[string]any, error) {
		if resp.IsXML() {
			return xmlEx(resp)
		}
		return jsonEx(resp)
	}
}

// ExpectStatus passes when the status code is one of codes.
func ExpectStatus(codes ...int) Validator {
	return func(resp *apiclient.Response) error {
		for _, c := range codes {
			if resp.StatusCode == c {
				return nil
			}
		}
		return qaerr.API(qaerr.ErrCodeValidationFailed, "chain",
			fmt.Sprintf("status %d, expected one of %v", resp.StatusCode, codes), nil)
	}
}

// ExpectSuccess passes on any 2xx status.
func ExpectSuccess() Validator {
	return func(resp *apiclient.Response) error {
		if resp.IsSuccess() {
			return nil
		}
		return qaerr.API(qaerr.ErrCodeValidationFailed, "chain",
			fmt.Sprintf("status %d, expected 2xx: %s", resp.StatusCode, snippet(resp.Text())), nil)
	}
}

// ExpectValue passes when the value at a gjson path formats the same as want.
// Numbers also pass when they are numerically equal, so 1e6 matches 1000000.
func ExpectValue(path string, want any) Validator {
	return func(resp *apiclient.Response) error {
		res := resp.Get(path)
		if !res.Exists() {
			return qaerr.API(qaerr.ErrCodeValidationFailed, "chain", fmt.Sprintf("%s is missing", path), nil)
		}
		got, exp := formatValue(jsonValue(res)), formatValue(want)
		if got == exp || sameNumber(res, exp) {
			return nil
		}
		return qaerr.API(qaerr.ErrCodeValidationFailed, "chain",
			fmt.Sprintf("%s is %q, expected %q", path, got, exp), nil)
	}
}

// All runs validators in order and returns the first failure.
func All(validators ...Validator) Validator {
	return func(resp *apiclient.Response) error {
		for _, v := range validators {
			if v == nil {
				continue
			}
			if err := v(resp); err != nil {
				return err
			}
		}
		return nil
	}
}

// jsonValue converts a gjson result to a Go value without routing numbers through
// float64. Objects and arrays are converted element by element.
func jsonValue(res gjson.Result) any {
	switch {
	case res.Type == gjson.Number:
		return json.Number(res.Raw)
	case res.IsObject():
		out := make(map[string]any)
		res.ForEach(func(key, value gjson.Result) bool {
			out[key.String()] = jsonValue(value)
			return true
		})
		return out
	case res.IsArray():
		items := res.Array()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = jsonValue(item)
		}
		return out
	default:
		return res.Value()
	}
}

// sameNumber compares a JSON number with want numerically. Two integers are only
// equal digit for digit, since float64 cannot tell large ids apart.
func sameNumber(res gjson.Result, want string) bool {
	if res.Type != gjson.Number || (isInteger(res.Raw) && isInteger(want)) {
		return false
	}
	f, err := strconv.ParseFloat(want, 64)
	return err == nil && f == res.Float()
}

func isInteger(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func snippet(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
