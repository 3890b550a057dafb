// Package parse turns raw bytes into a queryable Tree.
//
// Both modes produce a goquery document so extraction uses one selector
// engine. HTML goes through x/net/html. XML is read with encoding/xml and
// rebuilt as html.Node values, because the HTML parser would rewrite feed
// elements such as <link> and drop CDATA.
package parse

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"scrape/internal/scrapeerr"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Mode selects the parser.
type Mode string

const (
	HTML Mode = "html"
	XML  Mode = "xml"
)

// ParseMode maps a task's mode string to a Mode. Empty selects HTML.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "html":
		return HTML, nil
	case "xml":
		return XML, nil
	default:
		return "", fmt.Errorf("unknown parse mode %q", s)
	}
}

type options struct {
	contentType string
	encoding    string
}

// Option tunes decoding.
type Option func(*options)

// WithContentType passes the response Content-Type used for charset sniffing.
func WithContentType(ct string) Option {
	return func(o *options) { o.contentType = ct }
}

// WithEncoding forces a named encoding (WHATWG label, e.g. "windows-1252"),
// skipping detection.
func WithEncoding(name string) Option {
	return func(o *options) { o.encoding = name }
}

// Parse builds a Tree from raw in the given mode. Malformed or undecodable
// input is a scrapeerr.Parse error.
func Parse(raw []byte, mode Mode, opts ...Option) (*Tree, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	switch mode {
	case XML:
		return parseXML(raw, o)
	case HTML, "":
		return parseHTML(raw, o)
	default:
		return nil, scrapeerr.Newf(scrapeerr.Parse, "parse", "unknown mode %q", mode)
	}
}

func parseHTML(raw []byte, o options) (*Tree, error) {
	r, err := decoder(raw, o)
	if err != nil {
		return nil, scrapeerr.New(scrapeerr.Parse, "parse html", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, scrapeerr.New(scrapeerr.Parse, "parse html", err)
	}
	return &Tree{doc: doc}, nil
}

func parseXML(raw []byte, o options) (*Tree, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, scrapeerr.Newf(scrapeerr.Parse, "parse xml", "empty document")
	}
	var r io.Reader = bytes.NewReader(raw)
	if o.encoding != "" {
		dec, err := namedDecoder(r, o.encoding)
		if err != nil {
			return nil, scrapeerr.New(scrapeerr.Parse, "parse xml", err)
		}
		r = dec
	}
	root, err := buildXMLTree(r, o.encoding == "")
	if err != nil {
		return nil, scrapeerr.New(scrapeerr.Parse, "parse xml", err)
	}
	return &Tree{doc: goquery.NewDocumentFromNode(root)}, nil
}

// decoder returns a UTF-8 reader over raw, honoring an explicit encoding or
// sniffing one from the content type, BOM and meta tags.
func decoder(raw []byte, o options) (io.Reader, error) {
	if o.encoding != "" {
		return namedDecoder(bytes.NewReader(raw), o.encoding)
	}
	return charset.NewReader(bytes.NewReader(raw), o.contentType)
}

func namedDecoder(r io.Reader, name string) (io.Reader, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", name, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
