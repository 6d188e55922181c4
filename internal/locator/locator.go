// internal/locator/locator.go
package locator

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// By is the selection strategy of a Locator.
type By string

const (
	ByID    By = "id"
	ByCSS   By = "css"
	ByXPath By = "xpath"
	ByText  By = "text"
	ByClass By = "class"
	ByName  By = "name"
)

var knownBy = map[By]bool{
	ByID: true, ByCSS: true, ByXPath: true, ByText: true, ByClass: true, ByName: true,
}

// Locator is an opaque selector expression plus the strategy used to evaluate it.
type Locator struct {
	By    By
	Value string
}

func ID(v string) Locator    { return Locator{By: ByID, Value: v} }
func CSS(v string) Locator   { return Locator{By: ByCSS, Value: v} }
func XPath(v string) Locator { return Locator{By: ByXPath, Value: v} }
func Text(v string) Locator  { return Locator{By: ByText, Value: v} }
func Class(v string) Locator { return Locator{By: ByClass, Value: v} }
func Name(v string) Locator  { return Locator{By: ByName, Value: v} }

// String renders the locator in the same "strategy:value" form Parse accepts.
func (l Locator) String() string {
	return string(l.By) + ":" + l.Value
}

// Validate reports whether the locator has a known strategy and a value.
func (l Locator) Validate() error {
	if !knownBy[l.By] {
		return qaerr.PageObject(qaerr.ErrCodeInvalidParameters, "locator", fmt.Sprintf("unknown strategy %q", l.By), nil)
	}
	if strings.TrimSpace(l.Value) == "" {
		return qaerr.PageObject(qaerr.ErrCodeInvalidParameters, "locator", fmt.Sprintf("empty %s locator", l.By), nil)
	}
	return nil
}

// Parse reads a locator of the form "strategy:value", e.g. "css:#login" or
// "xpath://button[@type='submit']". Only the first colon separates the strategy,
// so values may contain colons.
func Parse(s string) (Locator, error) {
	by, value, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Locator{}, qaerr.PageObject(qaerr.ErrCodeInvalidParameters, "locator",
			fmt.Sprintf("locator %q must have the form strategy:value", s), nil)
	}
	l := Locator{By: By(strings.ToLower(strings.TrimSpace(by))), Value: value}
	if err := l.Validate(); err != nil {
		return Locator{}, err
	}
	return l, nil
}

// MustParse is Parse for static locator tables; it panics on malformed input.
func MustParse(s string) Locator {
	l, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return l
}

// ParseAll parses an ordered list, preserving order.
func ParseAll(specs []string) ([]Locator, error) {
	out := make([]Locator, 0, len(specs))
	for _, s := range specs {
		l, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Join renders locators for log and error messages.
func Join(locs []Locator) string {
	parts := make([]string, len(locs))
	for i, l := range locs {
		parts[i] = l.String()
	}
	return strings.Join(parts, ", ")
}
