package epub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// pngPayload is base64 of the PNG signature; content is never decoded as an image here.
const pngPayload = "iVBORw0KGgo="

// recordingProcessor returns payload for every image and records the calls.
type recordingProcessor struct {
	mu      sync.Mutex
	payload string
	err     error
	calls   []ImageInfo
}

func (p *recordingProcessor) ProcessImage(_ context.Context, info ImageInfo) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, info)
	return p.payload, p.err
}

func (p *recordingProcessor) Calls() []ImageInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ImageInfo(nil), p.calls...)
}

var errFetch = errors.New("fetch failed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBook(t *testing.T, opts Options) *Book {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return New(Metadata{Title: "Test Book", Author: "Jane Doe"}, opts)
}

func mustAddChapter(t *testing.T, b *Book, title, sourceURL, html string) Chapter {
	t.Helper()
	if err := b.AddChapter(context.Background(), title, sourceURL, html); err != nil {
		t.Fatalf("AddChapter(%q) error = %v", title, err)
	}
	chapters := b.Chapters()
	return chapters[len(chapters)-1]
}
