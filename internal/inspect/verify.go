package inspect

import (
	"bytes"
	"fmt"
	"path"

	"github.com/PuerkitoBio/goquery"
)

// Verify checks the cross references of the archive: manifest hrefs exist,
// spine idrefs resolve, manifest ids are unique and the nav lists every
// spine document in reading order.
func (a *Archive) Verify() []Problem {
	var problems []Problem
	add := func(sev Severity, p, format string, args ...any) {
		problems = append(problems, Problem{Severity: sev, Path: p, Message: fmt.Sprintf(format, args...)})
	}

	if !a.hasMimetype {
		add(SeverityWarning, mimetypeName, "entry missing")
	}

	pkg := a.pkg
	seen := make(map[string]bool, len(pkg.ManifestOrder))
	for _, id := range pkg.ManifestOrder {
		if seen[id] {
			add(SeverityError, a.opfPath, "duplicate manifest id %q", id)
			continue
		}
		seen[id] = true

		item := pkg.Manifest[id]
		if a.Has(item.Href) {
			continue
		}
		// The stylesheet is optional content; readers fall back to defaults.
		if item.MediaType == "text/css" {
			add(SeverityWarning, item.Href, "stylesheet listed in manifest but not packaged")
			continue
		}
		add(SeverityError, item.Href, "manifest item %q not found in archive", id)
	}

	var spineHrefs []string
	for _, ref := range pkg.Spine {
		item, ok := pkg.Manifest[ref.IDRef]
		if !ok {
			add(SeverityError, a.opfPath, "spine references unknown id %q", ref.IDRef)
			continue
		}
		spineHrefs = append(spineHrefs, item.Href)
	}

	for _, href := range spineHrefs {
		problems = append(problems, a.checkReferences(href)...)
	}

	nav, ok := pkg.NavItem()
	if !ok {
		add(SeverityError, a.opfPath, "no manifest item declares the nav property")
		return problems
	}
	links, err := a.navLinks(nav.Href)
	if err != nil {
		add(SeverityError, nav.Href, "%v", err)
		return problems
	}
	if len(links) != len(spineHrefs) {
		add(SeverityError, nav.Href, "nav has %d links, spine has %d entries", len(links), len(spineHrefs))
		return problems
	}
	for i := range links {
		if links[i] != spineHrefs[i] {
			add(SeverityError, nav.Href, "nav link %d is %q, spine entry is %q", i, links[i], spineHrefs[i])
		}
	}
	return problems
}

// navLinks returns the archive paths of the toc nav links in order.
func (a *Archive) navLinks(navPath string) ([]string, error) {
	content, err := a.ReadFile(navPath)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse nav document: %w", err)
	}

	toc := doc.Find(`nav[epub\:type="toc"]`).First()
	if toc.Length() == 0 {
		toc = doc.Find("nav").First()
	}
	if toc.Length() == 0 {
		return nil, fmt.Errorf("nav document has no nav element")
	}

	dir := path.Dir(navPath)
	if dir == "." {
		dir = ""
	}
	var links []string
	toc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		links = append(links, joinPath(dir, href))
	})
	return links, nil
}

// Errors returns only the error-severity problems.
func Errors(problems []Problem) []Problem {
	var out []Problem
	for _, p := range problems {
		if p.Severity == SeverityError {
			out = append(out, p)
		}
	}
	return out
}

// checkReferences reports unresolved references of one spine document.
// Missing targets are warnings: a reader renders the text without them.
func (a *Archive) checkReferences(docPath string) []Problem {
	data, err := a.ReadFile(docPath)
	if err != nil {
		// already reported against the manifest
		return nil
	}
	c, err := LoadContent(docPath, data)
	if err != nil {
		return []Problem{{Severity: SeverityError, Path: docPath, Message: err.Error()}}
	}

	var problems []Problem
	for _, p := range c.Stylesheets {
		if !a.Has(p) {
			problems = append(problems, Problem{Severity: SeverityWarning, Path: docPath, Message: fmt.Sprintf("stylesheet %q not packaged", p)})
		}
	}
	for _, p := range c.Images {
		if !a.Has(p) {
			problems = append(problems, Problem{Severity: SeverityWarning, Path: docPath, Message: fmt.Sprintf("image %q not packaged", p)})
		}
	}
	for _, ref := range c.Remote {
		problems = append(problems, Problem{Severity: SeverityWarning, Path: docPath, Message: fmt.Sprintf("remote reference %q", ref)})
	}
	return problems
}
