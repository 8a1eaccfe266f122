// Package inspect reads EPUB archives back and checks their structure.
package inspect

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	mimetypeName    = "mimetype"
	mimetypeContent = "application/epub+zip"
	containerPath   = "META-INF/container.xml"
	opfMediaType    = "application/oebps-package+xml"
)

var (
	ErrInvalidMimetype    = errors.New("invalid mimetype: must be 'application/epub+zip'")
	ErrMimetypeCompressed = errors.New("mimetype must not be compressed")
	ErrMimetypeNotFound   = errors.New("mimetype file not found")
	ErrMimetypeNotFirst   = errors.New("mimetype must be the first archive entry")
	ErrContainerNotFound  = errors.New("META-INF/container.xml not found")
	ErrOPFPathNotFound    = errors.New("OPF path not found in container.xml")
)

// Options tunes Open.
type Options struct {
	// AllowMissingMimetype accepts archives built without the mimetype
	// entry. A mimetype that is present is still validated.
	AllowMissingMimetype bool
}

// Archive is an opened EPUB held in memory.
type Archive struct {
	files       map[string]*zip.File
	names       []string
	hasMimetype bool
	opfPath     string
	pkg         *Package
}

type container struct {
	Rootfiles struct {
		Rootfile []struct {
			FullPath  string `xml:"full-path,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

// Open reads an EPUB archive from data and parses its package document.
func Open(data []byte, opts Options) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open EPUB: %w", err)
	}

	a := &Archive{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, "./")
		a.files[name] = f
		a.names = append(a.names, name)
	}

	if err := a.validateMimetype(zr.File, opts); err != nil {
		return nil, err
	}
	if err := a.parseContainer(); err != nil {
		return nil, err
	}

	content, err := a.ReadFile(a.opfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read package document: %w", err)
	}
	dir := path.Dir(a.opfPath)
	if dir == "." {
		dir = ""
	}
	a.pkg, err = ParseOPF(content, dir)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Names returns entry names in archive order.
func (a *Archive) Names() []string {
	return append([]string(nil), a.names...)
}

// HasMimetype reports whether the archive carries a mimetype entry.
func (a *Archive) HasMimetype() bool { return a.hasMimetype }

// OPFPath returns the package document path from container.xml.
func (a *Archive) OPFPath() string { return a.opfPath }

// Package returns the parsed package document.
func (a *Archive) Package() *Package { return a.pkg }

// Has reports whether name is an entry of the archive.
func (a *Archive) Has(name string) bool {
	_, ok := a.files[name]
	return ok
}

// ReadFile reads the contents of one entry.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *Archive) validateMimetype(entries []*zip.File, opts Options) error {
	f, ok := a.files[mimetypeName]
	if !ok {
		if opts.AllowMissingMimetype {
			return nil
		}
		return ErrMimetypeNotFound
	}
	a.hasMimetype = true

	if entries[0] != f {
		return ErrMimetypeNotFirst
	}
	if f.Method != zip.Store {
		return ErrMimetypeCompressed
	}
	content, err := a.ReadFile(mimetypeName)
	if err != nil {
		return fmt.Errorf("failed to read mimetype: %w", err)
	}
	if string(content) != mimetypeContent {
		return ErrInvalidMimetype
	}
	return nil
}

func (a *Archive) parseContainer() error {
	content, err := a.ReadFile(containerPath)
	if err != nil {
		return ErrContainerNotFound
	}

	var c container
	if err := xml.Unmarshal(content, &c); err != nil {
		return fmt.Errorf("failed to parse container.xml: %w", err)
	}

	for _, rf := range c.Rootfiles.Rootfile {
		if rf.FullPath != "" && (rf.MediaType == opfMediaType || rf.MediaType == "") {
			a.opfPath = strings.TrimPrefix(rf.FullPath, "./")
			return nil
		}
	}
	return ErrOPFPathNotFound
}
