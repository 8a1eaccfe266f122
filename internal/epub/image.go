package epub

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

// presentationAttrs are stripped from every <img>; the archive stylesheet
// owns image sizing.
var presentationAttrs = []string{"style", "width", "height"}

// ImageInfo describes one image handed to an ImageProcessor.
type ImageInfo struct {
	FileName string // resolved source locator
	Ext      string // normalized extension, possibly empty
	FileID   string // id of the asset that will hold the result
}

// ImageProcessor fetches and transcodes one image, returning its content
// base64-encoded. An error or an empty payload leaves the image untouched.
type ImageProcessor interface {
	ProcessImage(ctx context.Context, info ImageInfo) (string, error)
}

// ImageProcessorFunc adapts a function to ImageProcessor.
type ImageProcessorFunc func(ctx context.Context, info ImageInfo) (string, error)

// ProcessImage calls f(ctx, info).
func (f ImageProcessorFunc) ProcessImage(ctx context.Context, info ImageInfo) (string, error) {
	return f(ctx, info)
}

// extractImages runs extractImage over every selected node and returns the
// produced assets in document order.
func (b *Book) extractImages(ctx context.Context, base *url.URL, images *goquery.Selection) []Asset {
	results := make([]*Asset, images.Length())

	if b.opts.Concurrency < 2 {
		images.Each(func(i int, s *goquery.Selection) {
			if asset, ok := b.extractImage(ctx, base, s); ok {
				results[i] = &asset
			}
		})
	} else {
		// Each goroutine only touches the attributes of its own node.
		var g errgroup.Group
		g.SetLimit(b.opts.Concurrency)
		images.Each(func(i int, s *goquery.Selection) {
			g.Go(func() error {
				if asset, ok := b.extractImage(ctx, base, s); ok {
					results[i] = &asset
				}
				return nil
			})
		})
		_ = g.Wait()
	}

	assets := make([]Asset, 0, len(results))
	for _, a := range results {
		if a != nil {
			assets = append(assets, *a)
		}
	}
	return assets
}

// extractImage normalizes one <img> and, when the image processor returns
// content for it, repoints its src at a new asset. Every failure leaves the
// src as it is and reports ok=false.
func (b *Book) extractImage(ctx context.Context, base *url.URL, s *goquery.Selection) (Asset, bool) {
	for _, attr := range presentationAttrs {
		s.RemoveAttr(attr)
	}

	if srcset, ok := s.Attr("srcset"); ok {
		if best, ok := selectCandidate(parseSrcset(srcset)); ok {
			s.SetAttr("src", best.URL)
		}
		s.RemoveAttr("srcset")
	}

	src, _ := s.Attr("src")
	src = strings.TrimSpace(src)
	if src == "" || isDataURI(src) {
		return Asset{}, false
	}
	if b.opts.ImageProcessor == nil {
		return Asset{}, false
	}

	resolved, err := resolveSource(base, src)
	if errors.Is(err, ErrLocalReference) {
		b.logger.Warn("skipping local image of remote chapter", "src", src, "base", base.Redacted())
		return Asset{}, false
	}
	if err != nil {
		b.logger.Warn("skipping image with malformed source", "src", src, "error", err)
		return Asset{}, false
	}

	ext := extensionOf(resolved)
	info := ImageInfo{
		FileName: resolved.String(),
		Ext:      ext,
		FileID:   newAssetID(),
	}

	payload, err := b.processImage(ctx, info)
	if err != nil {
		b.logger.Warn("image processing failed, keeping original reference", "src", info.FileName, "error", err)
		return Asset{}, false
	}
	if payload == "" {
		b.logger.Warn("image processor returned no content, keeping original reference", "src", info.FileName)
		return Asset{}, false
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		b.logger.Warn("image processor returned invalid base64, keeping original reference", "src", info.FileName, "error", err)
		return Asset{}, false
	}

	asset := Asset{
		ID:        info.FileID,
		Ext:       ext,
		MediaType: mediaTypeForExt(ext),
		payload:   payload,
	}
	s.SetAttr("src", asset.FileName())
	return asset, true
}

// processImage calls the configured processor, turning a panic into an error.
func (b *Book) processImage(ctx context.Context, info ImageInfo) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image processor panicked: %v", r)
		}
	}()
	return b.opts.ImageProcessor.ProcessImage(ctx, info)
}

// resolveSource parses src and resolves it against base when base is set.
// A remote base only resolves to http(s) locators.
func resolveSource(base *url.URL, src string) (*url.URL, error) {
	ref, err := url.Parse(src)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return ref, nil
	}
	resolved := base.ResolveReference(ref)
	if isHTTP(base) && !isHTTP(resolved) {
		return nil, fmt.Errorf("%w: %s", ErrLocalReference, resolved.Redacted())
	}
	return resolved, nil
}

func isHTTP(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
