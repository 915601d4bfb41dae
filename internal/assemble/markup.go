package assemble

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var markupTag = regexp.MustCompile(`</?(?i:p|div|br|span|li|ul|ol|table|tr|td|th|h[1-6]|a|strong|em|b|i|script|style)\b[^>]*>`)

// StripMarkup returns the visible text of chunks that carry HTML markup.
// Plain text is returned unchanged.
func StripMarkup(chunk string) string {
	if !markupTag.MatchString(chunk) {
		return chunk
	}
	doc, err := html.Parse(strings.NewReader(chunk))
	if err != nil {
		return chunk
	}
	return visibleText(doc)
}

// visibleText collects text nodes, skipping scripts and styles, and breaks
// lines at block elements
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.Join(strings.Fields(n.Data), " ")
			if text != "" {
				if buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") && !strings.ContainsRune(".,;:!?)", rune(text[0])) {
					buf.WriteString(" ")
				}
				buf.WriteString(text)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && isBlock(n.Data) && buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") {
			buf.WriteString("\n")
		}
	}

	walk(n)
	return strings.TrimSpace(buf.String())
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "table", "ul", "ol":
		return true
	}
	return false
}
