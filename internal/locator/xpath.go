package locator

import (
	"fmt"
	"strings"
)

// XPathExpr returns an equivalent XPath 1.0 expression for every strategy except
// css, for which ok is false.
func (l Locator) XPathExpr() (expr string, ok bool) {
	switch l.By {
	case ByXPath:
		return l.Value, true
	case ByID:
		return fmt.Sprintf("//*[@id=%s]", Literal(l.Value)), true
	case ByName:
		return fmt.Sprintf("//*[@name=%s]", Literal(l.Value)), true
	case ByText:
		return fmt.Sprintf("//*[normalize-space(text())=%s]", Literal(strings.TrimSpace(l.Value))), true
	case ByClass:
		return fmt.Sprintf("//*[contains(concat(' ', normalize-space(@class), ' '), %s)]",
			Literal(" "+strings.TrimSpace(l.Value)+" ")), true
	}
	return "", false
}

// Literal quotes s as an XPath string literal. XPath 1.0 has no escape sequences,
// so a value containing both quote kinds is built with concat().
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
