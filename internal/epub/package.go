package epub

import (
	"context"
	"fmt"
	"os"

	"github.com/yuanying/html2epub/internal/archive"
)

// Build generates every part from the current chapters and assets and
// returns the finished archive. No partial archive is returned on error.
func (b *Book) Build(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := b.snapshot()

	w := archive.NewWriter()
	w.Modified = s.modified

	if b.opts.Debug {
		b.logger.Debug("debug mode: omitting mimetype entry")
	} else if err := w.AddText(mimetypePath, mimetypeContent); err != nil {
		return nil, err
	}

	if err := addRendered(w, containerPath, renderContainer); err != nil {
		return nil, err
	}
	if err := addRendered(w, packagePath, func() ([]byte, error) { return renderPackage(s) }); err != nil {
		return nil, err
	}
	if err := addRendered(w, navPath, func() ([]byte, error) { return renderNav(s) }); err != nil {
		return nil, err
	}
	if b.opts.Stylesheet != "" {
		if err := w.AddText(StylesheetPath, b.opts.Stylesheet); err != nil {
			return nil, err
		}
	}

	for _, ch := range s.chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := addRendered(w, ch.ArchivePath(), func() ([]byte, error) { return renderChapter(ch) }); err != nil {
			return nil, err
		}
	}
	for _, a := range s.assets {
		if err := w.AddBase64(a.ArchivePath(), a.payload); err != nil {
			return nil, err
		}
	}

	data, err := w.Finalize()
	if err != nil {
		return nil, err
	}
	b.logger.Debug("built archive",
		"chapters", len(s.chapters),
		"assets", len(s.assets),
		"entries", w.Len(),
		"bytes", len(data))
	return data, nil
}

// WriteFile builds the archive and writes it to path.
func (b *Book) WriteFile(ctx context.Context, path string) error {
	data, err := b.Build(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

func addRendered(w *archive.Writer, name string, render func() ([]byte, error)) error {
	data, err := render()
	if err != nil {
		return err
	}
	return w.AddBytes(name, data)
}
