package search

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText extracts the visible text of an HTML fragment such as the
// "htmlSnippet" field, collapsing whitespace. Malformed markup is tolerated.
func PlainText(fragment string) string {
	if fragment == "" {
		return ""
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				b.WriteByte(' ')
			}
		}
	}
}
