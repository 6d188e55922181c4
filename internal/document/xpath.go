// document/xpath.go
package document

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/qaframe/internal/locator"
)

// XPathFor prints an XPath that selects exactly n. The nearest ancestor with an id
// anchors the path; otherwise it is absolute from the root element.
func XPathFor(n *html.Node) string {
	if n == nil {
		return ""
	}

	var segments []string
	anchored := false
	for cur := n; cur != nil && cur.Type != html.DocumentNode; cur = cur.Parent {
		if cur.Type != html.ElementNode || cur.Data == "" {
			continue
		}
		if id := Attr(cur, "id"); id != "" {
			segments = append(segments, fmt.Sprintf("//*[@id=%s]", locator.Literal(id)))
			anchored = true
			break
		}
		tag := strings.ToLower(cur.Data)
		segments = append(segments, fmt.Sprintf("%s[%d]", tag, siblingIndex(cur, tag)))
	}

	if len(segments) == 0 {
		return "/"
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	path := strings.Join(segments, "/")
	if anchored {
		return path
	}
	return "/" + path
}

// siblingIndex is the 1-based position of n among preceding siblings with the same tag.
func siblingIndex(n *html.Node, tag string) int {
	idx := 1
	for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
		if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
			idx++
		}
	}
	return idx
}
