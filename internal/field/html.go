package field

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/recfield/internal/ir"
)

// htmlConv stores rich text sanitized: active content is stripped when the
// value enters the cache, so every later representation is safe.
type htmlConv struct{ stringConv }

func (c htmlConv) toCache(_ context.Context, f *Field, _ ir.ID, v any, _ Resolver) (any, error) {
	s, err := c.text(f, v)
	if err != nil || s == "" {
		return s, err
	}
	clean, err := Sanitize(s)
	if err != nil {
		return nil, f.invalid(truncate(s, 32), "cannot parse html: %v", err)
	}
	return clean, nil
}

// strippedElements are removed together with their content.
var strippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Frame:    true,
	atom.Frameset: true,
}

// Sanitize parses s as a body fragment, drops script-like elements, event
// handler attributes and javascript: URLs, and renders the result.
func Sanitize(s string) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), body)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, n := range nodes {
		if strippedElements[n.DataAtom] && n.Type == html.ElementNode {
			continue
		}
		clean(n)
		if err := html.Render(&b, n); err != nil {
			return "", err
		}
	}
	return norm.NFC.String(b.String()), nil
}

func clean(n *html.Node) {
	if n.Type == html.ElementNode {
		attrs := n.Attr[:0]
		for _, a := range n.Attr {
			key := strings.ToLower(a.Key)
			if strings.HasPrefix(key, "on") {
				continue
			}
			if (key == "href" || key == "src") && strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:") {
				continue
			}
			attrs = append(attrs, a)
		}
		n.Attr = attrs
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && strippedElements[c.DataAtom] {
			n.RemoveChild(c)
		} else {
			clean(c)
		}
		c = next
	}
}
