package inspect

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"
)

type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	UniqueID string      `xml:"unique-identifier,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

type opfMetadata struct {
	Title      []string        `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator    []string        `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Language   []string        `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifier []opfIdentifier `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Publisher  []string        `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Meta       []opfMeta       `xml:"meta"`
}

type opfIdentifier struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
}

type opfMeta struct {
	Property string `xml:"property,attr"`
	Value    string `xml:",chardata"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	ItemRefs []opfItemRef `xml:"itemref"`
}

type opfItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

// ParseOPF parses a package document. opfDir is the archive directory that
// holds it; manifest hrefs are resolved against it.
func ParseOPF(content []byte, opfDir string) (*Package, error) {
	var raw opfPackage
	if err := xml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse OPF XML: %w", err)
	}

	pkg := &Package{
		Version:  raw.Version,
		Metadata: parseMetadata(&raw.Metadata, raw.UniqueID),
		Manifest: make(map[string]ManifestItem, len(raw.Manifest.Items)),
	}

	for _, item := range raw.Manifest.Items {
		pkg.ManifestOrder = append(pkg.ManifestOrder, item.ID)
		if _, dup := pkg.Manifest[item.ID]; dup {
			continue
		}
		pkg.Manifest[item.ID] = ManifestItem{
			ID:         item.ID,
			Href:       joinPath(opfDir, item.Href),
			MediaType:  item.MediaType,
			Properties: strings.Fields(item.Properties),
		}
	}

	for _, ref := range raw.Spine.ItemRefs {
		pkg.Spine = append(pkg.Spine, SpineItem{
			IDRef:  ref.IDRef,
			Linear: ref.Linear != "no",
		})
	}
	return pkg, nil
}

func parseMetadata(meta *opfMetadata, uniqueID string) Metadata {
	md := Metadata{Creators: meta.Creator}
	md.Title = first(meta.Title)
	md.Language = first(meta.Language)
	md.Publisher = first(meta.Publisher)

	for _, id := range meta.Identifier {
		if id.ID == uniqueID {
			md.Identifier = id.Value
			break
		}
	}
	if md.Identifier == "" && len(meta.Identifier) > 0 {
		md.Identifier = meta.Identifier[0].Value
	}

	for _, m := range meta.Meta {
		if m.Property == "dcterms:modified" {
			md.Modified = strings.TrimSpace(m.Value)
			break
		}
	}
	return md
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// joinPath resolves rel against the OPF directory, dropping any fragment.
func joinPath(base, rel string) string {
	if i := strings.IndexByte(rel, '#'); i >= 0 {
		rel = rel[:i]
	}
	if base == "" {
		return path.Clean(rel)
	}
	return path.Join(base, rel)
}

// NavItem returns the manifest item declaring the nav property.
func (p *Package) NavItem() (ManifestItem, bool) {
	for _, id := range p.ManifestOrder {
		if item := p.Manifest[id]; item.HasProperty("nav") {
			return item, true
		}
	}
	return ManifestItem{}, false
}
