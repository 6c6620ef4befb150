package util

import (
	"strings"

	"golang.org/x/net/html"
)

// Link is one anchor found in a listing page.
type Link struct {
	Href string
	Text string
}

// ParseLinks walks an HTML node tree depth-first and collects every
// <a href=...> element. Anchors without an href are ignored.
func ParseLinks(root *html.Node) []Link {
	var out []Link
	var walk func(*html.Node)

	walk = func(nd *html.Node) {
		if nd.Type == html.ElementNode && nd.Data == "a" {
			for _, a := range nd.Attr {
				if a.Key == "href" && a.Val != "" && a.Val != "/" {
					out = append(out, Link{Href: a.Val, Text: nodeText(nd)})
					break
				}
			}
		}
		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(root)
	return out
}

func nodeText(nd *html.Node) string {
	var b strings.Builder
	for c := nd.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}
