package epub

import "errors"

var (
	// ErrSerialization indicates a generated part could not be emitted as
	// well-formed XML. A chapter failing this check is never added to a Book.
	ErrSerialization = errors.New("epub: xml serialization failed")

	// ErrLocalReference indicates an image of a remote chapter names a
	// non-http(s) locator. Such images are skipped.
	ErrLocalReference = errors.New("epub: remote chapter references a local resource")
)
