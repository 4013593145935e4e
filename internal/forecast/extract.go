package forecast

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// findElement returns the first node matching selector in document order.
// A selector of the form "#id" matches the id attribute; anything else is a
// tag name.
func findElement(root *html.Node, selector string) *html.Node {
	match := func(n *html.Node) bool {
		return n.Type == html.ElementNode && strings.EqualFold(n.Data, selector)
	}
	if id, ok := strings.CutPrefix(selector, "#"); ok {
		match = func(n *html.Node) bool {
			if n.Type != html.ElementNode {
				return false
			}
			for _, a := range n.Attr {
				if a.Key == "id" && a.Val == id {
					return true
				}
			}
			return false
		}
	}

	var walk func(*html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if match(n) {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(root)
}

// textContent concatenates the text nodes under n, keeping whitespace as is
// so preformatted forecasts stay readable.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// extractText parses an HTML document and returns the text of the first
// element matching selector. ok is false when nothing matches.
func extractText(r io.Reader, selector string) (text string, ok bool, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", false, err
	}
	n := findElement(doc, selector)
	if n == nil {
		return "", false, nil
	}
	return strings.Trim(textContent(n), "\r\n"), true, nil
}
