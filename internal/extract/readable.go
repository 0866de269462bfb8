package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// deniedTags never contain article text.
var deniedTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Button:   true,
	atom.Select:   true,
}

// deniedTokens match whole class or id tokens, also after splitting on
// '-' and '_' so "cookie-banner" and "main_menu" are caught. Tokens with a
// descriptive prefix only match whole.
var deniedTokens = map[string]bool{
	"ad":         true,
	"ads":        true,
	"advert":     true,
	"banner":     true,
	"cookie":     true,
	"sidebar":    true,
	"menu":       true,
	"share":      true,
	"social":     true,
	"promo":      true,
	"newsletter": true,
}

// containerTags hold the page content itself. Their class and id tokens
// describe the page (taxonomy, layout state), not boilerplate.
var containerTags = map[atom.Atom]bool{
	atom.Html:    true,
	atom.Body:    true,
	atom.Main:    true,
	atom.Article: true,
}

// descriptivePrefixes start tokens that label what a page is about or how
// it is laid out, e.g. WordPress "category-social-media" or "has-sidebar".
var descriptivePrefixes = []string{
	"category-", "tag-", "has-", "type-", "format-", "post-", "page-", "single-", "topic-",
}

// blockTags break the text flow.
var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Article: true, atom.Section: true, atom.Main: true, atom.Blockquote: true,
	atom.Pre: true, atom.Tr: true, atom.Td: true, atom.Th: true, atom.Table: true,
	atom.Dd: true, atom.Dt: true, atom.Figcaption: true,
}

// ReadableText returns the text of doc outside denied elements. Block
// elements are separated by newlines; the result is not yet cleaned.
func ReadableText(doc *html.Node) string {
	var b strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.CommentNode, html.DoctypeNode:
			return
		case html.ElementNode:
			if denied(n) {
				return
			}
			if n.DataAtom == atom.Head {
				return
			}
		}

		block := n.Type == html.ElementNode && blockTags[n.DataAtom]
		if block {
			b.WriteByte('\n')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	return b.String()
}

func denied(n *html.Node) bool {
	if deniedTags[n.DataAtom] {
		return true
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		}
	}
	if containerTags[n.DataAtom] || attr(n, "role") == "main" {
		return false
	}
	return hasDeniedToken(attr(n, "class")) || hasDeniedToken(attr(n, "id"))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasDeniedToken(value string) bool {
	for _, token := range strings.Fields(strings.ToLower(value)) {
		if deniedTokens[token] {
			return true
		}
		if descriptive(token) {
			continue
		}
		for _, part := range strings.FieldsFunc(token, func(r rune) bool { return r == '-' || r == '_' }) {
			if deniedTokens[part] {
				return true
			}
		}
	}
	return false
}

func descriptive(token string) bool {
	for _, prefix := range descriptivePrefixes {
		if strings.HasPrefix(token, prefix) {
			return true
		}
	}
	return false
}
