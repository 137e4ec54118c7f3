package extraction

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	markupPattern = regexp.MustCompile(`(?i)<\s*(html|body|div|p|br|span|table|td|tr|li|ul|ol|h[1-6]|a|b|i|strong|em|font|meta|head|style|script|!doctype)[\s/>]`)
	spaceRun      = regexp.MustCompile(`[ \t\f\v\r\x{00a0}]+`)
)

var blockElements = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "blockquote": true, "pre": true, "hr": true,
}

// LooksLikeMarkup reports whether body appears to be HTML rather than plain text.
func LooksLikeMarkup(body string) bool {
	return markupPattern.MatchString(body)
}

// NormalizeBody strips markup into plain text. Block elements become line breaks so
// that line-anchored values survive. Plain text and unparsable input are returned unchanged.
func NormalizeBody(body string) string {
	if !LooksLikeMarkup(body) {
		return body
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "head" {
				return
			}
			if blockElements[n.Data] {
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] && n.Data != "br" {
			sb.WriteByte('\n')
		}
	}
	walk(doc)

	lines := strings.Split(sb.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
