// internal/document/document.go
package document

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/qaframe/internal/locator"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// Document is a parsed, immutable HTML page that resolves locators without a
// browser. It implements locator.Finder[*html.Node].
type Document struct {
	root *html.Node
	gq   *goquery.Document
}

var _ locator.Finder[*html.Node] = (*Document)(nil)

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, qaerr.PageObject(qaerr.ErrCodeInvalidParameters, "document", "failed to parse html", err)
	}
	return New(root), nil
}

// ParseString is Parse for an in-memory page.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseFile reads a captured page from disk.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// New wraps an already parsed tree.
func New(root *html.Node) *Document {
	return &Document{root: root, gq: goquery.NewDocumentFromNode(root)}
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Find returns the first node matching loc that satisfies cond. A static document
// never changes, so there is nothing to wait for.
func (d *Document) Find(ctx context.Context, loc locator.Locator, cond locator.Condition) (*html.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes, err := d.query(loc)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if satisfies(n, cond) {
			return n, nil
		}
	}
	if len(nodes) > 0 {
		return nil, qaerr.PageObject(qaerr.ErrCodeElementNotFound, "document",
			fmt.Sprintf("%d node(s) match %s but none is %s", len(nodes), loc, cond), nil)
	}
	return nil, qaerr.PageObject(qaerr.ErrCodeElementNotFound, "document", fmt.Sprintf("no node matches %s", loc), nil)
}

// FindAll returns every node matching loc in document order.
func (d *Document) FindAll(ctx context.Context, loc locator.Locator) ([]*html.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.query(loc)
}

func (d *Document) query(loc locator.Locator) ([]*html.Node, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if loc.By == locator.ByCSS {
		return d.gq.Find(loc.Value).Nodes, nil
	}

	expr, _ := loc.XPathExpr()
	nodes, err := htmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, qaerr.PageObject(qaerr.ErrCodeInvalidParameters, "document",
			fmt.Sprintf("invalid xpath for %s", loc), err)
	}
	return nodes, nil
}

func satisfies(n *html.Node, cond locator.Condition) bool {
	switch cond {
	case locator.Visible:
		return IsVisible(n)
	case locator.Clickable:
		return IsVisible(n) && IsEnabled(n)
	default:
		return true
	}
}

// IsVisible applies the static visibility rules: the node and its ancestors must not
// be hidden by the hidden attribute, an inline display:none or visibility:hidden, or
// a non-rendered container. Hidden inputs are never visible.
func IsVisible(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if strings.EqualFold(n.Data, "input") && strings.EqualFold(Attr(n, "type"), "hidden") {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		switch strings.ToLower(cur.Data) {
		case "head", "script", "style", "template", "noscript":
			return false
		}
		if HasAttr(cur, "hidden") || hiddenByStyle(Attr(cur, "style")) {
			return false
		}
	}
	return true
}

// IsEnabled reports false for disabled form controls, controls inside a disabled
// fieldset and elements marked aria-disabled.
func IsEnabled(n *html.Node) bool {
	if n == nil {
		return false
	}
	if HasAttr(n, "disabled") || strings.EqualFold(Attr(n, "aria-disabled"), "true") {
		return false
	}
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, "fieldset") && HasAttr(cur, "disabled") {
			return false
		}
	}
	return true
}

func hiddenByStyle(style string) bool {
	if style == "" {
		return false
	}
	compact := strings.ToLower(strings.Join(strings.Fields(style), ""))
	return strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden")
}

// Attr returns the value of an attribute, or "" when absent.
func Attr(n *html.Node, name string) string {
	return htmlquery.SelectAttr(n, name)
}

// HasAttr reports whether the attribute is present, including boolean attributes
// with no value.
func HasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

// Text returns the node's text content with whitespace collapsed.
func Text(n *html.Node) string {
	return strings.Join(strings.Fields(htmlquery.InnerText(n)), " ")
}

// OuterHTML renders the node and its children.
func OuterHTML(n *html.Node) string {
	return htmlquery.OutputHTML(n, true)
}
