package transcode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"github.com/yuanying/html2epub/internal/epub"
	"github.com/yuanying/html2epub/internal/fetch"
)

var ErrNotImage = errors.New("transcode: resource is not an image")

// Fetcher retrieves the bytes behind a locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (fetch.Resource, error)
}

// Processor is the default epub.ImageProcessor: it fetches each image and
// runs it through an Optimizer. A nil Optimizer keeps fetched bytes as-is.
type Processor struct {
	fetcher   Fetcher
	optimizer *Optimizer
	logger    *slog.Logger
}

var _ epub.ImageProcessor = (*Processor)(nil)

// NewProcessor creates a Processor. logger may be nil.
func NewProcessor(f Fetcher, o *Optimizer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{fetcher: f, optimizer: o, logger: logger}
}

// ProcessImage fetches info.FileName and returns the optimized bytes in
// base64.
func (p *Processor) ProcessImage(ctx context.Context, info epub.ImageInfo) (string, error) {
	res, err := p.fetcher.Fetch(ctx, info.FileName)
	if err != nil {
		return "", err
	}
	if !imageContentType(res.ContentType) {
		return "", fmt.Errorf("%w: %s is %s", ErrNotImage, info.FileName, res.ContentType)
	}
	if len(res.Data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyImage, info.FileName)
	}

	data := res.Data
	if p.optimizer != nil {
		out, err := p.optimizer.Optimize(info.Ext, res.Data)
		if err != nil {
			return "", fmt.Errorf("%s: %w", info.FileName, err)
		}
		if out.Warning != "" {
			p.logger.Warn("Image optimization warning", "src", info.FileName, "asset", info.FileID, "warning", out.Warning)
		}
		p.logger.Debug("Image optimized",
			"src", info.FileName,
			"asset", info.FileID,
			"format", out.Format,
			"width", out.Width,
			"height", out.Height,
			"bytes_in", len(res.Data),
			"bytes_out", len(out.Data))
		data = out.Data
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// imageContentType accepts image types and the generic or missing types
// servers and local files report.
func imageContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	mediaType = strings.ToLower(mediaType)
	return strings.HasPrefix(mediaType, "image/") ||
		mediaType == "application/octet-stream" ||
		mediaType == "binary/octet-stream"
}
