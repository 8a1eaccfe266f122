package inspect

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content lists the references one XHTML document makes.
type Content struct {
	Path        string
	Stylesheets []string // archive paths
	Images      []string // archive paths
	Remote      []string // absolute http(s) references, kept verbatim
}

// LoadContent parses an XHTML document stored at p and collects its
// stylesheet and image references. Local references are resolved against
// the document's directory; data URIs are ignored.
func LoadContent(p string, data []byte) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse XHTML: %w", err)
	}

	c := &Content{Path: p}
	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	}

	doc.Find("link[rel='stylesheet']").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			c.add(&c.Stylesheets, dir, href)
		}
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			c.add(&c.Images, dir, src)
		}
	})
	return c, nil
}

func (c *Content) add(local *[]string, dir, ref string) {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	switch {
	case ref == "", strings.HasPrefix(lower, "data:"):
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(ref, "//"):
		c.Remote = append(c.Remote, ref)
	default:
		*local = append(*local, joinPath(dir, ref))
	}
}
