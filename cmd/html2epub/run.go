package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gosimple/slug"
	"golang.org/x/sync/errgroup"

	"github.com/yuanying/html2epub/internal/epub"
	"github.com/yuanying/html2epub/internal/fetch"
	"github.com/yuanying/html2epub/internal/inspect"
	"github.com/yuanying/html2epub/internal/transcode"
)

var errVerifyFailed = errors.New("built archive failed verification")

type chapterInput struct {
	locator string
	source  string
	title   string
	html    string
}

func run(ctx context.Context, opts cliOptions) error {
	logger := opts.Logger

	fetcher := fetch.New(fetch.Options{
		RatePerSecond: opts.RatePerSecond,
		Timeout:       opts.Timeout,
	})

	stylesheet := defaultStylesheet
	if opts.StylesheetPath != "" {
		data, err := os.ReadFile(opts.StylesheetPath)
		if err != nil {
			return fmt.Errorf("failed to read stylesheet: %w", err)
		}
		stylesheet = string(data)
	}

	inputs, err := loadInputs(ctx, fetcher, opts.Inputs, opts.Concurrency)
	if err != nil {
		return err
	}

	title := opts.Title
	if title == "" {
		title = inputs[0].title
	}

	bookOpts := epub.Options{
		Debug:       opts.Debug,
		Concurrency: opts.Concurrency,
		Stylesheet:  stylesheet,
		Logger:      logger,
	}
	if !opts.NoImages {
		optimizer := transcode.NewOptimizer(transcode.Options{
			MaxWidth:    opts.MaxImageWidth,
			JPEGQuality: opts.JPEGQuality,
			MaxFileSize: opts.MaxImageSizeBytes,
		})
		bookOpts.ImageProcessor = transcode.NewProcessor(fetcher, optimizer, logger)
	}
	book := epub.New(epub.Metadata{Title: title, Author: opts.Author}, bookOpts)

	for _, in := range inputs {
		if err := book.AddChapter(ctx, in.title, in.source, in.html); err != nil {
			if opts.Strict || ctx.Err() != nil {
				return fmt.Errorf("%s: %w", in.locator, err)
			}
			logger.Warn("Skipping chapter", "input", in.locator, "error", err)
			continue
		}
		logger.Info("Added chapter", "input", in.locator, "title", in.title)
	}

	data, err := book.Build(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	if opts.Strict {
		if err := verify(data, opts); err != nil {
			return err
		}
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = defaultOutputPath(book.Title())
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	logger.Info("Done",
		"output", outputPath,
		"chapters", len(book.Chapters()),
		"images", len(book.Assets()),
		"bytes", len(data))
	return nil
}

// loadInputs fetches every input in parallel and returns them in argument
// order.
func loadInputs(ctx context.Context, fetcher *fetch.Fetcher, locators []string, limit int) ([]chapterInput, error) {
	inputs := make([]chapterInput, len(locators))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, locator := range locators {
		g.Go(func() error {
			res, err := fetcher.Fetch(gctx, locator)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", locator, err)
			}
			source, err := sourceURL(locator)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", locator, err)
			}
			html := string(res.Data)
			inputs[i] = chapterInput{
				locator: locator,
				source:  source,
				title:   chapterTitle(html, locator),
				html:    html,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

// sourceURL is the base against which a chapter's relative images resolve.
func sourceURL(locator string) (string, error) {
	if fetch.IsRemote(locator) || strings.HasPrefix(strings.ToLower(locator), "file:") {
		return locator, nil
	}
	if strings.HasPrefix(strings.ToLower(locator), "data:") {
		return "", nil
	}
	return fetch.FileURL(locator)
}

// chapterTitle picks <title>, then the first <h1>, then the input's base
// name.
func chapterTitle(html, locator string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err == nil {
		if t := collapseSpace(doc.Find("title").First().Text()); t != "" {
			return t
		}
		if t := collapseSpace(doc.Find("h1").First().Text()); t != "" {
			return t
		}
	}
	return baseName(locator)
}

func baseName(locator string) string {
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		if u.Scheme == "data" {
			return ""
		}
		p = u.Path
		if p == "" || p == "/" {
			return u.Host
		}
		p = path.Base(p)
	} else {
		p = filepath.Base(p)
	}
	return strings.TrimSuffix(p, path.Ext(p))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func defaultOutputPath(title string) string {
	name := slug.Make(title)
	if name == "" {
		name = "book"
	}
	return name + ".epub"
}

func verify(data []byte, opts cliOptions) error {
	archive, err := inspect.Open(data, inspect.Options{AllowMissingMimetype: opts.Debug})
	if err != nil {
		return fmt.Errorf("%w: %v", errVerifyFailed, err)
	}
	problems := archive.Verify()
	for _, p := range problems {
		if p.Severity == inspect.SeverityError {
			opts.Logger.Error("Verification problem", "path", p.Path, "message", p.Message)
		} else {
			opts.Logger.Warn("Verification problem", "path", p.Path, "message", p.Message)
		}
	}
	if errs := inspect.Errors(problems); len(errs) > 0 {
		return fmt.Errorf("%w: %d error(s)", errVerifyFailed, len(errs))
	}
	return nil
}
