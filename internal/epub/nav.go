package epub

import (
	"path"

	"github.com/beevik/etree"
)

const navTitle = "Table of Contents"

// renderNav produces the navigation document. Its list starts with a link
// to itself, then links every chapter in reading order.
func renderNav(s snapshot) ([]byte, error) {
	doc, body := newXHTMLDocument(navTitle, StylesheetPath)

	nav := body.CreateElement("nav")
	nav.CreateAttr("epub:type", "toc")
	nav.CreateAttr("id", "toc")
	nav.CreateElement("h1").SetText(navTitle)

	list := nav.CreateElement("ol")
	addNavEntry(list, path.Base(navPath), navTitle)
	for _, ch := range s.chapters {
		addNavEntry(list, ch.ArchivePath(), ch.Title)
	}

	return writeIndented(doc, navPath)
}

func addNavEntry(list *etree.Element, href, label string) {
	a := list.CreateElement("li").CreateElement("a")
	a.CreateAttr("href", href)
	a.SetText(label)
}
