package websearch

import (
	"bytes"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Result page class names.
const (
	classResult  = "result"
	classAd      = "result--ad"
	classTitle   = "result__title"
	classLink    = "result__a"
	classSnippet = "result__snippet"
	classURL     = "result__url"
)

// parse reads a results page and returns up to limit stubs in page order.
// Ads and results without a title or usable link are skipped.
func (c *Client) parse(r io.Reader, limit int) ([]Stub, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	stubs := make([]Stub, 0, limit)
	seen := make(map[string]bool)

	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && hasClass(n, classResult) {
			if hasClass(n, classAd) {
				return true
			}
			if stub, ok := c.stub(n); ok && !seen[stub.Link] {
				seen[stub.Link] = true
				stubs = append(stubs, stub)
			}
			return len(stubs) < limit
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if !walk(child) {
				return false
			}
		}
		return true
	}
	walk(doc)

	return stubs, nil
}

func (c *Client) stub(result *html.Node) (Stub, bool) {
	var stub Stub

	anchor := findByClass(result, classLink)
	if anchor != nil {
		stub.Title = c.plainText(anchor)
		stub.Link = resolveLink(attr(anchor, "href"))
	}
	if stub.Title == "" {
		if title := findByClass(result, classTitle); title != nil {
			stub.Title = c.plainText(title)
		}
	}
	if stub.Link == "" {
		if display := findByClass(result, classURL); display != nil {
			stub.Link = withScheme(c.plainText(display))
		}
	}
	if snippet := findByClass(result, classSnippet); snippet != nil {
		stub.Snippet = c.plainText(snippet)
	}

	return stub, stub.Title != "" && stub.Link != ""
}

// plainText renders the node's children and strips all markup, so bold
// query terms and entities come back as plain text.
func (c *Client) plainText(n *html.Node) string {
	var buf bytes.Buffer
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		_ = html.Render(&buf, child)
	}
	text := html.UnescapeString(c.sanitizer.Sanitize(buf.String()))
	return strings.Join(strings.Fields(text), " ")
}

// resolveLink unwraps the engine's redirect links (/l/?uddg=<target>) and
// adds a scheme to protocol-relative links.
func resolveLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return withScheme(target)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func withScheme(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		link = "https://" + link
	}
	return link
}

func findByClass(n *html.Node, class string) *html.Node {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && hasClass(child, class) {
			return child
		}
		if found := findByClass(child, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, token := range strings.Fields(attr(n, "class")) {
		if token == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
