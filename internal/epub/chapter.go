package epub

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// AddChapter parses htmlContent, extracts its images into assets and
// appends one chapter to the book. Relative image references resolve
// against sourceURL.
//
// Image failures never fail the chapter: the image keeps its original
// reference. An error is returned only when the chapter cannot be turned
// into a well-formed XHTML document; nothing is added in that case.
func (b *Book) AddChapter(ctx context.Context, title, sourceURL, htmlContent string) error {
	if title == "" {
		title = defaultTitle
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return fmt.Errorf("failed to parse chapter %q: %w", title, err)
	}

	base := b.parseBase(sourceURL)
	doc.Url = base
	assets := b.extractImages(ctx, base, doc.Find("img"))

	body, err := doc.Find("body").Html()
	if err != nil {
		return fmt.Errorf("failed to read body of chapter %q: %w", title, err)
	}

	ch := Chapter{
		ID:        newChapterID(),
		Title:     title,
		SourceURL: sourceURL,
		BodyHTML:  body,
	}
	if _, err := renderChapter(ch); err != nil {
		return fmt.Errorf("chapter %q rejected: %w", title, err)
	}

	b.appendChapter(ch, assets)
	b.logger.Debug("added chapter", "id", ch.ID, "title", title, "assets", len(assets))
	return nil
}

// parseBase returns the URL relative image references resolve against.
// An unusable source URL only loses that resolution.
func (b *Book) parseBase(sourceURL string) *url.URL {
	if sourceURL == "" {
		return nil
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		b.logger.Warn("ignoring malformed chapter url", "url", sourceURL, "error", err)
		return nil
	}
	return u
}
