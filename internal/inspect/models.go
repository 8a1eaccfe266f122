package inspect

// Package is the parsed content.opf of an archive.
type Package struct {
	Version  string
	Metadata Metadata
	Manifest map[string]ManifestItem // id -> item
	// ManifestOrder holds manifest ids in document order, duplicates included.
	ManifestOrder []string
	Spine         []SpineItem
}

// Metadata is the Dublin Core block of the package document.
type Metadata struct {
	Title      string
	Creators   []string
	Language   string
	Identifier string
	Publisher  string
	Modified   string // dcterms:modified
}

// ManifestItem is one manifest entry. Href is resolved against the OPF
// directory, so it is an archive path.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties []string
}

// HasProperty reports whether the item declares prop.
func (m ManifestItem) HasProperty(prop string) bool {
	for _, p := range m.Properties {
		if p == prop {
			return true
		}
	}
	return false
}

// SpineItem is one reading-order reference.
type SpineItem struct {
	IDRef  string
	Linear bool
}

// Severity ranks a Problem.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Problem is a single structural finding from Verify.
type Problem struct {
	Severity Severity
	Path     string
	Message  string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Severity.String() + ": " + p.Message
	}
	return p.Severity.String() + ": " + p.Path + ": " + p.Message
}
