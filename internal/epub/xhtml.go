package epub

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/beevik/etree"
	"golang.org/x/net/html"
)

const (
	xhtmlNS = "http://www.w3.org/1999/xhtml"
	opsNS   = "http://www.idpf.org/2007/ops"
	svgNS   = "http://www.w3.org/2000/svg"
	mathNS  = "http://www.w3.org/1998/Math/MathML"
	xlinkNS = "http://www.w3.org/1999/xlink"
)

// voidElements are written self-closed; every other empty element gets an
// explicit end tag so readers that sniff HTML do not nest what follows.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// newXHTMLDocument creates an XHTML 5 document shell and returns it with its
// body element.
func newXHTMLDocument(title, cssHref string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateText("\n")
	doc.CreateDirective("DOCTYPE html")
	doc.CreateText("\n")

	root := doc.CreateElement("html")
	root.CreateAttr("xmlns", xhtmlNS)
	root.CreateAttr("xmlns:epub", opsNS)
	root.CreateAttr("xml:lang", Language)
	root.CreateAttr("lang", Language)

	head := root.CreateElement("head")
	head.CreateElement("meta").CreateAttr("charset", "UTF-8")
	head.CreateElement("title").SetText(title)
	link := head.CreateElement("link")
	link.CreateAttr("rel", "stylesheet")
	link.CreateAttr("type", "text/css")
	link.CreateAttr("href", cssHref)

	return doc, root.CreateElement("body")
}

// renderChapter produces the XHTML document for one chapter.
func renderChapter(ch Chapter) ([]byte, error) {
	if err := checkText(ch.Title); err != nil {
		return nil, fmt.Errorf("%w: chapter %s title: %v", ErrSerialization, ch.ID, err)
	}

	parsed, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body>" + ch.BodyHTML + "</body></html>"))
	if err != nil {
		return nil, fmt.Errorf("%w: chapter %s: %v", ErrSerialization, ch.ID, err)
	}

	doc, body := newXHTMLDocument(ch.Title, "../"+StylesheetPath)
	doc.Root().CreateAttr("xmlns:xlink", xlinkNS)
	section := body.CreateElement("section")
	section.CreateAttr("epub:type", "chapter")
	section.CreateElement("h1").SetText(ch.Title)

	for _, n := range parsed.Find("body").Nodes {
		if err := appendChildren(section, n); err != nil {
			return nil, fmt.Errorf("%w: chapter %s: %v", ErrSerialization, ch.ID, err)
		}
	}

	out, err := writeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: chapter %s: %v", ErrSerialization, ch.ID, err)
	}
	return out, nil
}

// appendChildren copies the children of n below parent as strict XML.
// Comments and doctypes are dropped.
func appendChildren(parent *etree.Element, n *html.Node) error {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if err := checkText(c.Data); err != nil {
				return err
			}
			parent.CreateText(c.Data)
		case html.ElementNode:
			if err := appendElement(parent, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// boundPrefixes are the attribute prefixes declared in every chapter
// document. Anything else would be an unbound prefix.
var boundPrefixes = map[string]bool{"xml": true, "epub": true, "xlink": true}

// appendElement copies n below parent. An element whose name is not a valid
// unprefixed XML name is unwrapped: its children are kept, the tag is not.
// Attributes that cannot be written as bound XML names are dropped.
func appendElement(parent *etree.Element, n *html.Node) error {
	if prefix, _, ok := splitQName(n.Data); !ok || prefix != "" {
		return appendChildren(parent, n)
	}
	el := parent.CreateElement(n.Data)

	switch {
	case n.Namespace == "svg" && n.Data == "svg":
		el.CreateAttr("xmlns", svgNS)
		el.CreateAttr("xmlns:xlink", xlinkNS)
	case n.Namespace == "math" && n.Data == "math":
		el.CreateAttr("xmlns", mathNS)
		el.CreateAttr("xmlns:xlink", xlinkNS)
	}

	for _, a := range n.Attr {
		key := a.Key
		if a.Namespace != "" {
			key = a.Namespace + ":" + a.Key
		}
		prefix, _, ok := splitQName(key)
		if !ok || key == "xmlns" || prefix == "xmlns" {
			continue
		}
		if prefix != "" && !boundPrefixes[prefix] {
			continue
		}
		if err := checkText(a.Val); err != nil {
			return fmt.Errorf("attribute %s on <%s>: %w", key, n.Data, err)
		}
		if hasAttr(el, key) {
			continue
		}
		el.CreateAttr(key, a.Val)
	}

	if err := appendChildren(el, n); err != nil {
		return err
	}
	if len(el.Child) == 0 && !voidElements[n.Data] {
		el.CreateText("")
	}
	return nil
}

// hasAttr compares the full prefixed key; etree's SelectAttr("lang") would
// also match xml:lang.
func hasAttr(el *etree.Element, key string) bool {
	for i := range el.Attr {
		if el.Attr[i].FullKey() == key {
			return true
		}
	}
	return false
}

// writeDocument serializes doc and proves the result parses as XML.
func writeDocument(doc *etree.Document) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, err
	}
	if err := checkWellFormed(buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// checkWellFormed re-reads data with encoding/xml. The decoder leaves an
// unbound prefix in Name.Space untranslated, and a bare prefix never
// contains a colon while every namespace URI here does.
func checkWellFormed(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if unboundPrefix(start.Name.Space) {
			return fmt.Errorf("unbound prefix %q on <%s>", start.Name.Space, start.Name.Local)
		}
		for _, a := range start.Attr {
			if a.Name.Space != "xmlns" && unboundPrefix(a.Name.Space) {
				return fmt.Errorf("unbound prefix %q on attribute %s", a.Name.Space, a.Name.Local)
			}
		}
	}
}

func unboundPrefix(space string) bool {
	return space != "" && !strings.Contains(space, ":")
}

// splitQName splits s into prefix and local part. ok reports whether s is
// a namespace-qualified XML name: an NCName, or two NCNames joined by a
// single colon.
func splitQName(s string) (prefix, local string, ok bool) {
	prefix, local, found := strings.Cut(s, ":")
	if !found {
		return "", s, isNCName(s)
	}
	return prefix, local, isNCName(prefix) && isNCName(local)
}

func isNCName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)) {
			continue
		}
		return false
	}
	return true
}

// checkText rejects characters XML 1.0 cannot carry.
func checkText(s string) error {
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				return fmt.Errorf("invalid UTF-8 at byte %d", i)
			}
		}
		if !isXMLChar(r) {
			return fmt.Errorf("character %U not allowed in XML", r)
		}
	}
	return nil
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}
