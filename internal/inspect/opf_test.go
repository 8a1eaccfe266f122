package inspect

import (
	"testing"
)

func TestParseOPF_Metadata(t *testing.T) {
	opfContent := `<?xml version="1.0" encoding="UTF-8"?>
<package version="3.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="BookId">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="other">urn:isbn:000</dc:identifier>
    <dc:identifier id="BookId">urn:uuid:1234</dc:identifier>
    <dc:title>Sample Book Title</dc:title>
    <dc:creator id="creator">John Doe</dc:creator>
    <dc:creator>Jane Editor</dc:creator>
    <dc:publisher>html2epub</dc:publisher>
    <dc:language>en</dc:language>
    <meta property="dcterms:modified">2024-05-06T07:08:09Z</meta>
  </metadata>
  <manifest/>
  <spine/>
</package>`

	pkg, err := ParseOPF([]byte(opfContent), "")
	if err != nil {
		t.Fatalf("ParseOPF failed: %v", err)
	}
	md := pkg.Metadata
	if pkg.Version != "3.0" {
		t.Errorf("Version = %q, want 3.0", pkg.Version)
	}
	if md.Title != "Sample Book Title" {
		t.Errorf("Title = %q, want %q", md.Title, "Sample Book Title")
	}
	if md.Identifier != "urn:uuid:1234" {
		t.Errorf("Identifier = %q, want %q", md.Identifier, "urn:uuid:1234")
	}
	if len(md.Creators) != 2 || md.Creators[0] != "John Doe" || md.Creators[1] != "Jane Editor" {
		t.Errorf("Creators = %v", md.Creators)
	}
	if md.Publisher != "html2epub" {
		t.Errorf("Publisher = %q", md.Publisher)
	}
	if md.Language != "en" {
		t.Errorf("Language = %q", md.Language)
	}
	if md.Modified != "2024-05-06T07:08:09Z" {
		t.Errorf("Modified = %q", md.Modified)
	}
}

func TestParseOPF_IdentifierFallback(t *testing.T) {
	opfContent := `<package xmlns="http://www.idpf.org/2007/opf" unique-identifier="missing">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier>urn:first</dc:identifier>
  </metadata>
</package>`

	pkg, err := ParseOPF([]byte(opfContent), "")
	if err != nil {
		t.Fatalf("ParseOPF failed: %v", err)
	}
	if pkg.Metadata.Identifier != "urn:first" {
		t.Errorf("Identifier = %q, want urn:first", pkg.Metadata.Identifier)
	}
}

func TestParseOPF_ManifestAndSpine(t *testing.T) {
	opfContent := `<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata/>
  <manifest>
    <item id="toc" href="toc.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="ch-1" href="chapters/ch-1.xhtml" media-type="application/xhtml+xml"/>
    <item id="img-1" href="chapters/img-1.png" media-type="image/png"/>
    <item id="ch-1" href="chapters/dup.xhtml" media-type="application/xhtml+xml"/>
    <item id="style" href="style.css" media-type="text/css"/>
  </manifest>
  <spine>
    <itemref idref="toc"/>
    <itemref idref="ch-1" linear="no"/>
  </spine>
</package>`

	pkg, err := ParseOPF([]byte(opfContent), "OEBPS")
	if err != nil {
		t.Fatalf("ParseOPF failed: %v", err)
	}

	wantOrder := []string{"toc", "ch-1", "img-1", "ch-1", "style"}
	if len(pkg.ManifestOrder) != len(wantOrder) {
		t.Fatalf("ManifestOrder = %v, want %v", pkg.ManifestOrder, wantOrder)
	}
	for i, id := range wantOrder {
		if pkg.ManifestOrder[i] != id {
			t.Errorf("ManifestOrder[%d] = %q, want %q", i, pkg.ManifestOrder[i], id)
		}
	}
	if len(pkg.Manifest) != 4 {
		t.Errorf("Manifest count = %d, want 4", len(pkg.Manifest))
	}
	// first declaration wins
	if got := pkg.Manifest["ch-1"].Href; got != "OEBPS/chapters/ch-1.xhtml" {
		t.Errorf("ch-1 href = %q", got)
	}
	if got := pkg.Manifest["img-1"].MediaType; got != "image/png" {
		t.Errorf("img-1 media type = %q", got)
	}

	nav, ok := pkg.NavItem()
	if !ok || nav.ID != "toc" {
		t.Errorf("NavItem() = %+v, %v", nav, ok)
	}

	if len(pkg.Spine) != 2 {
		t.Fatalf("Spine count = %d, want 2", len(pkg.Spine))
	}
	if !pkg.Spine[0].Linear || pkg.Spine[1].Linear {
		t.Errorf("Spine linear = %v,%v, want true,false", pkg.Spine[0].Linear, pkg.Spine[1].Linear)
	}
}

func TestParseOPF_InvalidXML(t *testing.T) {
	if _, err := ParseOPF([]byte("<package><manifest>"), ""); err == nil {
		t.Error("ParseOPF() error = nil, want error")
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		base, rel, want string
	}{
		{"", "toc.xhtml", "toc.xhtml"},
		{"OEBPS", "text/c1.xhtml", "OEBPS/text/c1.xhtml"},
		{"OEBPS/text", "../images/a.png", "OEBPS/images/a.png"},
		{"", "chapters/ch.xhtml#frag", "chapters/ch.xhtml"},
	}
	for _, tt := range tests {
		if got := joinPath(tt.base, tt.rel); got != tt.want {
			t.Errorf("joinPath(%q, %q) = %q, want %q", tt.base, tt.rel, got, tt.want)
		}
	}
}
