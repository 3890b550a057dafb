package parse

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tree is a parsed document. Lookups never fail: a selector that matches
// nothing yields an empty selection.
type Tree struct {
	doc *goquery.Document
}

// Selection returns the document root.
func (t *Tree) Selection() *goquery.Selection { return t.doc.Selection }

// Find returns every match of sel in document order.
func (t *Tree) Find(sel string) *goquery.Selection { return t.doc.Find(sel) }

// First returns the first match of sel.
func (t *Tree) First(sel string) *goquery.Selection { return t.doc.Find(sel).First() }

// DebugPrint writes either the outer HTML or the text of every match of
// selector, each followed by a blank line. It backs the inspect command.
func (t *Tree) DebugPrint(w io.Writer, selector string, textOnly bool) error {
	var werr error
	t.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var out string
		if textOnly {
			out = strings.TrimSpace(s.Text())
		} else if h, err := goquery.OuterHtml(s); err == nil {
			out = h
		} else {
			out, _ = s.Html()
		}
		_, werr = fmt.Fprintf(w, "%s\n\n", out)
		return werr == nil
	})
	return werr
}
