package viewer

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// withBase returns doc with a <base href> so relative references resolve
// against href. An existing base element is left alone. Documents that do
// not parse are returned unchanged.
func withBase(doc []byte, href string) string {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return string(doc)
	}

	head := find(root, atom.Head)
	if head == nil || find(head, atom.Base) != nil {
		return string(doc)
	}

	base := &html.Node{
		Type:     html.ElementNode,
		Data:     "base",
		DataAtom: atom.Base,
		Attr:     []html.Attribute{{Key: "href", Val: href}},
	}
	head.InsertBefore(base, head.FirstChild)

	var b strings.Builder
	if err := html.Render(&b, root); err != nil {
		return string(doc)
	}
	return b.String()
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}
