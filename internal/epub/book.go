// Package epub assembles EPUB 3 archives from HTML fragments.
//
// A Book accumulates chapters and the image assets extracted from them.
// Build generates the container descriptor, package document, navigation
// document and one XHTML document per chapter from that state and writes
// everything into a single zip buffer.
package epub

import (
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// Publisher is written as dc:publisher and used as the author fallback.
	Publisher = "html2epub"
	// Language is the fixed dc:language of every generated book.
	Language = "en"
	// StylesheetPath is the archive path of the stylesheet every part links.
	StylesheetPath = "style.css"

	mimetypePath    = "mimetype"
	mimetypeContent = "application/epub+zip"
	containerPath   = "META-INF/container.xml"
	packagePath     = "content.opf"
	navPath         = "toc.xhtml"
	chapterDir      = "chapters"

	defaultTitle = "Untitled"
)

// Metadata holds the caller-supplied book metadata.
type Metadata struct {
	Title  string
	Author string // optional; Publisher is used when empty
}

// Options configures how a Book ingests and packages content.
type Options struct {
	// Debug omits the mimetype entry from the archive.
	Debug bool
	// ImageProcessor produces the binary content of extracted images.
	// When nil, images keep their original references.
	ImageProcessor ImageProcessor
	// Concurrency bounds parallel image extraction within one chapter.
	// Values below 2 extract images sequentially.
	Concurrency int
	// Stylesheet is written at StylesheetPath when non-empty.
	Stylesheet string
	Logger     *slog.Logger
	// Now stamps dcterms:modified. Defaults to time.Now.
	Now func() time.Time
}

// Chapter is one unit of reading content, in spine order.
type Chapter struct {
	ID        string
	Title     string
	SourceURL string
	BodyHTML  string
}

// ArchivePath returns the chapter document path inside the archive.
func (c Chapter) ArchivePath() string {
	return path.Join(chapterDir, c.ID+".xhtml")
}

// Asset is a binary resource extracted from chapter content.
type Asset struct {
	ID        string
	Ext       string
	MediaType string

	payload string // base64
}

// FileName returns the chapter-relative name the rewritten <img> points at.
func (a Asset) FileName() string {
	if a.Ext == "" {
		return a.ID
	}
	return a.ID + "." + a.Ext
}

// ArchivePath returns the asset path inside the archive.
func (a Asset) ArchivePath() string {
	return path.Join(chapterDir, a.FileName())
}

// Book is the append-only document model. It is safe for concurrent use.
type Book struct {
	id       string
	title    string
	author   string
	modified time.Time
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	chapters []Chapter
	assets   []Asset
}

// New creates an empty Book with a fresh unique identifier.
func New(meta Metadata, opts Options) *Book {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	title := meta.Title
	if title == "" {
		title = defaultTitle
	}
	author := meta.Author
	if author == "" {
		author = Publisher
	}
	return &Book{
		id:       "urn:uuid:" + uuid.NewString(),
		title:    title,
		author:   author,
		modified: now().UTC().Truncate(time.Second),
		opts:     opts,
		logger:   logger,
	}
}

// ID returns the book's unique identifier.
func (b *Book) ID() string { return b.id }

// Title returns the book title.
func (b *Book) Title() string { return b.title }

// Author returns the author, or Publisher when none was given.
func (b *Book) Author() string { return b.author }

// Chapters returns a copy of the chapters in reading order.
func (b *Book) Chapters() []Chapter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Chapter(nil), b.chapters...)
}

// Assets returns a copy of the assets in registration order.
func (b *Book) Assets() []Asset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Asset(nil), b.assets...)
}

// appendChapter registers a chapter together with the assets extracted from it.
func (b *Book) appendChapter(ch Chapter, assets []Asset) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chapters = append(b.chapters, ch)
	b.assets = append(b.assets, assets...)
}

// snapshot is the frozen view the part generators read.
type snapshot struct {
	id       string
	title    string
	author   string
	modified time.Time
	chapters []Chapter
	assets   []Asset
}

func (b *Book) snapshot() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshot{
		id:       b.id,
		title:    b.title,
		author:   b.author,
		modified: b.modified,
		chapters: append([]Chapter(nil), b.chapters...),
		assets:   append([]Asset(nil), b.assets...),
	}
}

func newChapterID() string { return "ch-" + uuid.NewString() }

func newAssetID() string { return "img-" + uuid.NewString() }
