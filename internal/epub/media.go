package epub

import (
	"net/url"
	"path"
	"strings"
)

// imageMediaTypes maps normalized extensions to manifest media types.
var imageMediaTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"avif": "image/avif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"ico":  "image/vnd.microsoft.icon",
}

// mediaTypeForExt returns the media type for ext, falling back to image/*.
func mediaTypeForExt(ext string) string {
	if mt, ok := imageMediaTypes[ext]; ok {
		return mt
	}
	return "image/*"
}

// extensionOf returns the lower-cased text after the last dot of the final
// path segment of u. Extensions holding anything but ASCII letters and
// digits are treated as absent so they never leak into archive names.
func extensionOf(u *url.URL) string {
	seg := path.Base(u.Path)
	idx := strings.LastIndex(seg, ".")
	if idx < 0 || idx == len(seg)-1 {
		return ""
	}
	ext := strings.ToLower(seg[idx+1:])
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func isDataURI(src string) bool {
	return len(src) >= 5 && strings.EqualFold(src[:5], "data:")
}
