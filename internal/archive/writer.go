// Package archive writes EPUB container archives.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"path"
	"strings"
	"time"
)

// MimetypeName is the entry OCF requires first in the archive, stored.
const MimetypeName = "mimetype"

var (
	ErrDuplicatePath  = errors.New("archive: duplicate entry path")
	ErrInvalidPath    = errors.New("archive: invalid entry path")
	ErrInvalidPayload = errors.New("archive: invalid base64 payload")
)

type entry struct {
	name string
	data []byte
}

// Writer collects archive entries in memory and finalizes them into one
// zip. The mimetype entry, when added, is always written first.
type Writer struct {
	// Modified is stamped on every entry except mimetype; zero means the
	// zip epoch.
	Modified time.Time

	entries []entry
	seen    map[string]bool
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	return &Writer{seen: make(map[string]bool)}
}

// AddText adds a UTF-8 text entry.
func (w *Writer) AddText(name, content string) error {
	return w.add(name, []byte(content))
}

// AddBytes adds a binary entry.
func (w *Writer) AddBytes(name string, data []byte) error {
	return w.add(name, data)
}

// AddBase64 adds a binary entry given as standard base64.
func (w *Writer) AddBase64(name, payload string) error {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}
	return w.add(name, data)
}

// Len returns the number of entries added so far.
func (w *Writer) Len() int { return len(w.entries) }

func (w *Writer) add(name string, data []byte) error {
	if !isSafePath(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if w.seen[name] {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, name)
	}
	w.seen[name] = true
	w.entries = append(w.entries, entry{name: name, data: data})
	return nil
}

// WriteTo writes the finalized zip to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	cw := &countingWriter{w: out}
	zw := zip.NewWriter(cw)

	for _, e := range w.entries {
		if e.name == MimetypeName {
			if err := w.writeStored(zw, e); err != nil {
				return cw.n, fmt.Errorf("failed to write %s: %w", e.name, err)
			}
		}
	}
	for _, e := range w.entries {
		if e.name == MimetypeName {
			continue
		}
		if err := w.writeDeflated(zw, e); err != nil {
			return cw.n, fmt.Errorf("failed to write %s: %w", e.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return cw.n, nil
}

// Finalize returns the finished archive as one buffer.
func (w *Writer) Finalize() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeStored writes e uncompressed with sizes in the local header, so the
// entry carries neither a data descriptor nor an extra field.
func (w *Writer) writeStored(zw *zip.Writer, e entry) error {
	header := &zip.FileHeader{
		Name:               e.name,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(e.data),
		CompressedSize64:   uint64(len(e.data)),
		UncompressedSize64: uint64(len(e.data)),
	}
	fw, err := zw.CreateRaw(header)
	if err != nil {
		return err
	}
	_, err = fw.Write(e.data)
	return err
}

func (w *Writer) writeDeflated(zw *zip.Writer, e entry) error {
	header := &zip.FileHeader{
		Name:     e.name,
		Method:   zip.Deflate,
		Modified: w.Modified,
	}
	fw, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = fw.Write(e.data)
	return err
}

// isSafePath reports whether name is a relative, slash-separated path that
// stays inside the archive root.
func isSafePath(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	cleaned := path.Clean(name)
	if cleaned != name {
		return false
	}
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
