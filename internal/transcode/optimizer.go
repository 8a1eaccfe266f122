// Package transcode fetches images and re-encodes them for e-reader output.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"
)

const (
	DefaultMaxWidth     = 1200
	DefaultJPEGQuality  = 85
	DefaultMaxFileSize  = 512 * 1024
	MinJPEGQuality      = 60
	defaultMaxPixels    = 100 * 1000 * 1000 // 100 megapixels
	jpegQualityStep     = 5
	svgSniffWindowBytes = 1024
)

var (
	ErrEmptyImage   = errors.New("transcode: empty image data")
	ErrInvalidImage = errors.New("transcode: image does not match its declared format")
)

// Options configures an Optimizer. Zero values select the defaults.
type Options struct {
	MaxWidth    int
	JPEGQuality int
	// MaxFileSize is a soft byte budget for re-encoded JPEGs. Negative
	// disables it.
	MaxFileSize int
}

// Optimizer shrinks raster images while keeping the format their file
// extension declares, so the manifest media type stays truthful.
type Optimizer struct {
	MaxWidth       int
	JPEGQuality    int
	MinJPEGQuality int
	MaxFileSize    int
	MaxPixels      int // Total pixel count limit for decode (width * height)
}

// Result holds optimized image data.
// Warning is set when the input was returned as-is or when a size budget
// could not be met. In both cases Data is usable.
type Result struct {
	Data    []byte
	Width   int
	Height  int
	Format  string
	Warning string
}

// NewOptimizer creates an Optimizer with defaults applied.
func NewOptimizer(opts Options) *Optimizer {
	maxWidth := opts.MaxWidth
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}

	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	if quality > 100 {
		quality = 100
	}

	maxSize := opts.MaxFileSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}
	if maxSize < 0 {
		maxSize = 0
	}

	return &Optimizer{
		MaxWidth:       maxWidth,
		JPEGQuality:    quality,
		MinJPEGQuality: MinJPEGQuality,
		MaxFileSize:    maxSize,
		MaxPixels:      defaultMaxPixels,
	}
}

// Optimize re-encodes input in the format named by ext. Formats imaging
// cannot encode are validated and passed through. A raster input that does
// not decode as its declared format is an error.
func (o *Optimizer) Optimize(ext string, input []byte) (Result, error) {
	if len(input) == 0 {
		return Result{}, ErrEmptyImage
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return passthrough(ext, input)
	}

	out := Result{Data: input, Format: ext}
	cfg, _, cfgErr := image.DecodeConfig(bytes.NewReader(input))
	if cfgErr != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrInvalidImage, ext, cfgErr)
	}
	out.Width, out.Height = cfg.Width, cfg.Height
	pixels := uint64(cfg.Width) * uint64(cfg.Height)
	if o.MaxPixels > 0 && pixels > uint64(o.MaxPixels) {
		out.Warning = fmt.Sprintf("image too large to decode: %dx%d (%d pixels)", cfg.Width, cfg.Height, pixels)
		return out, nil
	}

	if format == imaging.GIF {
		animated, err := isAnimatedGIF(input)
		if err == nil && animated {
			return out, nil
		}
	}

	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrInvalidImage, ext, err)
	}

	processed := src
	if o.MaxWidth > 0 && src.Bounds().Dx() > o.MaxWidth {
		processed = imaging.Resize(src, o.MaxWidth, 0, imaging.Lanczos)
	}

	var data []byte
	qualityUsed := 0
	switch format {
	case imaging.JPEG:
		data, qualityUsed, err = o.encodeJPEGWithSizeLimit(processed)
	default:
		data, err = encode(processed, format)
	}
	if err != nil {
		return Result{}, err
	}

	out.Data = data
	out.Width = processed.Bounds().Dx()
	out.Height = processed.Bounds().Dy()

	if o.MaxFileSize > 0 && len(out.Data) > o.MaxFileSize {
		if format == imaging.JPEG {
			out.Warning = fmt.Sprintf("jpeg size %d exceeds limit %d bytes at quality %d", len(out.Data), o.MaxFileSize, qualityUsed)
		} else {
			out.Warning = fmt.Sprintf("image size %d exceeds limit %d bytes", len(out.Data), o.MaxFileSize)
		}
	}
	return out, nil
}

func (o *Optimizer) encodeJPEGWithSizeLimit(img image.Image) ([]byte, int, error) {
	quality := o.JPEGQuality
	if quality < o.MinJPEGQuality {
		quality = o.MinJPEGQuality
	}

	best, err := encode(img, imaging.JPEG, imaging.JPEGQuality(quality))
	if err != nil {
		return nil, 0, err
	}
	if o.MaxFileSize <= 0 || len(best) <= o.MaxFileSize {
		return best, quality, nil
	}

	bestQuality := quality
	for q := quality - jpegQualityStep; q >= o.MinJPEGQuality; q -= jpegQualityStep {
		candidate, err := encode(img, imaging.JPEG, imaging.JPEGQuality(q))
		if err != nil {
			return nil, 0, err
		}
		best, bestQuality = candidate, q
		if len(candidate) <= o.MaxFileSize {
			break
		}
	}
	return best, bestQuality, nil
}

func encode(img image.Image, format imaging.Format, opts ...imaging.EncodeOption) ([]byte, error) {
	if format == imaging.PNG {
		opts = append(opts, imaging.PNGCompressionLevel(png.BestCompression))
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("%s encode failed: %w", strings.ToLower(format.String()), err)
	}
	return buf.Bytes(), nil
}

// passthrough returns formats imaging cannot encode unchanged, after a
// cheap check that the bytes are what the extension claims.
func passthrough(ext string, input []byte) (Result, error) {
	out := Result{Data: input, Format: ext}
	switch ext {
	case "webp":
		cfg, err := webp.DecodeConfig(bytes.NewReader(input))
		if err != nil {
			return Result{}, fmt.Errorf("%w: webp: %v", ErrInvalidImage, err)
		}
		out.Width, out.Height = cfg.Width, cfg.Height
	case "svg":
		head := input
		if len(head) > svgSniffWindowBytes {
			head = head[:svgSniffWindowBytes]
		}
		if !bytes.Contains(bytes.ToLower(head), []byte("<svg")) {
			return Result{}, fmt.Errorf("%w: svg: no <svg> root", ErrInvalidImage)
		}
	default:
		cfg, format, err := image.DecodeConfig(bytes.NewReader(input))
		if err != nil {
			return Result{}, fmt.Errorf("%w: %q: %v", ErrInvalidImage, ext, err)
		}
		out.Width, out.Height = cfg.Width, cfg.Height
		if ext == "" {
			out.Format = format
		}
	}
	return out, nil
}

func isAnimatedGIF(data []byte) (bool, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	return len(g.Image) > 1, nil
}
