package epub

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
)

const (
	opfNS          = "http://www.idpf.org/2007/opf"
	dcNS           = "http://purl.org/dc/elements/1.1/"
	containerNS    = "urn:oasis:names:tc:opendocument:xmlns:container"
	uniqueIDRef    = "BookId"
	navItemID      = "toc"
	stylesheetID   = "style"
	xhtmlMediaType = "application/xhtml+xml"
)

// renderContainer produces META-INF/container.xml.
func renderContainer() ([]byte, error) {
	doc := newXMLDocument()
	container := doc.CreateElement("container")
	container.CreateAttr("version", "1.0")
	container.CreateAttr("xmlns", containerNS)

	rootfile := container.CreateElement("rootfiles").CreateElement("rootfile")
	rootfile.CreateAttr("full-path", packagePath)
	rootfile.CreateAttr("media-type", "application/oebps-package+xml")

	return writeIndented(doc, containerPath)
}

// renderPackage produces the package document. The manifest lists the
// navigation document, every chapter, every asset and the stylesheet; the
// spine lists the navigation document followed by every chapter.
func renderPackage(s snapshot) ([]byte, error) {
	doc := newXMLDocument()
	pkg := doc.CreateElement("package")
	pkg.CreateAttr("xmlns", opfNS)
	pkg.CreateAttr("version", "3.0")
	pkg.CreateAttr("unique-identifier", uniqueIDRef)
	pkg.CreateAttr("xml:lang", Language)

	metadata := pkg.CreateElement("metadata")
	metadata.CreateAttr("xmlns:dc", dcNS)

	identifier := metadata.CreateElement("dc:identifier")
	identifier.CreateAttr("id", uniqueIDRef)
	identifier.SetText(s.id)
	metadata.CreateElement("dc:title").SetText(s.title)
	creator := metadata.CreateElement("dc:creator")
	creator.CreateAttr("id", "creator")
	creator.SetText(s.author)
	metadata.CreateElement("dc:publisher").SetText(Publisher)
	metadata.CreateElement("dc:language").SetText(Language)
	modified := metadata.CreateElement("meta")
	modified.CreateAttr("property", "dcterms:modified")
	modified.SetText(s.modified.UTC().Format(time.RFC3339))

	manifest := pkg.CreateElement("manifest")
	nav := addManifestItem(manifest, navItemID, navPath, xhtmlMediaType)
	nav.CreateAttr("properties", "nav")
	for _, ch := range s.chapters {
		addManifestItem(manifest, ch.ID, ch.ArchivePath(), xhtmlMediaType)
	}
	for _, a := range s.assets {
		addManifestItem(manifest, a.ID, a.ArchivePath(), a.MediaType)
	}
	addManifestItem(manifest, stylesheetID, StylesheetPath, "text/css")

	spine := pkg.CreateElement("spine")
	spine.CreateElement("itemref").CreateAttr("idref", navItemID)
	for _, ch := range s.chapters {
		spine.CreateElement("itemref").CreateAttr("idref", ch.ID)
	}

	return writeIndented(doc, packagePath)
}

func addManifestItem(manifest *etree.Element, id, href, mediaType string) *etree.Element {
	item := manifest.CreateElement("item")
	item.CreateAttr("id", id)
	item.CreateAttr("href", href)
	item.CreateAttr("media-type", mediaType)
	return item
}

func newXMLDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	return doc
}

// writeIndented serializes a generated metadata part. Text in these parts
// comes from caller metadata, so it is checked like chapter content.
func writeIndented(doc *etree.Document, name string) ([]byte, error) {
	for _, el := range doc.FindElements("//*") {
		if err := checkText(el.Text()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, name, err)
		}
	}
	doc.Indent(2)
	out, err := writeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, name, err)
	}
	return out, nil
}
