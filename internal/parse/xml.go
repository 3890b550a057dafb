package parse

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// buildXMLTree reads an XML token stream into an html.Node document.
//
// Element and attribute local names are lower-cased: cascadia lower-cases type
// selectors, so "pubDate" in a task matches <pubDate> in the feed. Namespace
// prefixes are dropped (<dc:creator> becomes creator).
func buildXMLTree(r io.Reader, sniffCharset bool) (*html.Node, error) {
	d := xml.NewDecoder(r)
	d.Strict = true
	d.Entity = xml.HTMLEntity
	if sniffCharset {
		d.CharsetReader = charset.NewReaderLabel
	} else {
		// input is already UTF-8; ignore the declared encoding.
		d.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	}

	doc := &html.Node{Type: html.DocumentNode}
	stack := []*html.Node{doc}
	sawRoot := false

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &html.Node{Type: html.ElementNode, Data: strings.ToLower(t.Name.Local)}
			for _, a := range t.Attr {
				n.Attr = append(n.Attr, html.Attribute{Key: strings.ToLower(a.Name.Local), Val: a.Value})
			}
			top.AppendChild(n)
			stack = append(stack, n)
			sawRoot = true

		case xml.EndElement:
			if len(stack) == 1 {
				return nil, fmt.Errorf("unexpected end element %q", t.Name.Local)
			}
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if top == doc {
				continue
			}
			top.AppendChild(&html.Node{Type: html.TextNode, Data: string(t)})

		case xml.Comment:
			top.AppendChild(&html.Node{Type: html.CommentNode, Data: string(t)})
		}
	}

	if !sawRoot {
		return nil, errors.New("no root element")
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("unclosed element %q", stack[len(stack)-1].Data)
	}
	return doc, nil
}
