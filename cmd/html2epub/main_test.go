package main

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yuanying/html2epub/internal/inspect"
)

func readCLIOptionsForTest(t *testing.T, flagArgs ...string) error {
	t.Helper()
	cmd := newRootCmd()
	if err := cmd.ParseFlags(flagArgs); err != nil {
		return err
	}
	_, err := readCLIOptions(cmd, []string{"./input/chapter.html"})
	return err
}

func TestReadCLIOptions_Defaults(t *testing.T) {
	cmd := newRootCmd()
	opts, err := readCLIOptions(cmd, []string{"./input/chapter.html"})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}

	if opts.OutputPath != "" {
		t.Fatalf("OutputPath = %q, want empty", opts.OutputPath)
	}
	if opts.JPEGQuality != defaultJPEGQuality {
		t.Fatalf("JPEGQuality = %d, want %d", opts.JPEGQuality, defaultJPEGQuality)
	}
	if opts.MaxImageWidth != defaultMaxImageWidth {
		t.Fatalf("MaxImageWidth = %d, want %d", opts.MaxImageWidth, defaultMaxImageWidth)
	}
	if opts.MaxImageSizeBytes != defaultMaxImageSize*1024 {
		t.Fatalf("MaxImageSizeBytes = %d, want %d", opts.MaxImageSizeBytes, defaultMaxImageSize*1024)
	}
	if opts.Concurrency != defaultConcurrency {
		t.Fatalf("Concurrency = %d, want %d", opts.Concurrency, defaultConcurrency)
	}
	if opts.Timeout != defaultTimeout {
		t.Fatalf("Timeout = %s, want %s", opts.Timeout, defaultTimeout)
	}
	if opts.Logger == nil {
		t.Fatal("Logger is nil, want non-nil")
	}
	if !opts.Logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Logger should be enabled at INFO level by default")
	}
	if opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should not be enabled at DEBUG level by default")
	}
}

func TestReadCLIOptions_CustomFlags(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{
		"--title", "My Book",
		"--author", "Jane Doe",
		"--output", "./out/custom.epub",
		"--quality", "90",
		"--max-image-size", "200",
		"--max-image-width", "720",
		"--concurrency", "8",
		"--rate", "1.5",
		"--timeout", "5s",
		"--no-images",
		"--debug",
		"--log-level", "warn",
		"--strict",
		"--verbose",
	}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	opts, err := readCLIOptions(cmd, []string{"a.html", "b.html"})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}

	if opts.Title != "My Book" || opts.Author != "Jane Doe" {
		t.Fatalf("Title/Author = %q/%q", opts.Title, opts.Author)
	}
	if opts.OutputPath != "./out/custom.epub" {
		t.Fatalf("OutputPath = %q", opts.OutputPath)
	}
	if opts.JPEGQuality != 90 {
		t.Fatalf("JPEGQuality = %d", opts.JPEGQuality)
	}
	if opts.MaxImageSizeBytes != 200*1024 {
		t.Fatalf("MaxImageSizeBytes = %d", opts.MaxImageSizeBytes)
	}
	if opts.MaxImageWidth != 720 {
		t.Fatalf("MaxImageWidth = %d", opts.MaxImageWidth)
	}
	if opts.Concurrency != 8 || opts.RatePerSecond != 1.5 || opts.Timeout != 5*time.Second {
		t.Fatalf("Concurrency/Rate/Timeout = %d/%g/%s", opts.Concurrency, opts.RatePerSecond, opts.Timeout)
	}
	if !opts.NoImages || !opts.Debug || !opts.Strict {
		t.Fatalf("NoImages/Debug/Strict = %v/%v/%v, want all true", opts.NoImages, opts.Debug, opts.Strict)
	}
	if len(opts.Inputs) != 2 {
		t.Fatalf("Inputs = %v", opts.Inputs)
	}
	// --verbose overrides log-level to debug
	if !opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should be enabled at DEBUG level when --verbose is set")
	}
}

func TestReadCLIOptions_Invalid(t *testing.T) {
	tests := []struct {
		flag string
		args []string
	}{
		{"--quality", []string{"--quality", "59"}},
		{"--quality", []string{"--quality", "101"}},
		{"--max-image-size", []string{"--max-image-size", "0"}},
		{"--max-image-width", []string{"--max-image-width", "0"}},
		{"--concurrency", []string{"--concurrency", "0"}},
		{"--rate", []string{"--rate", "-1"}},
		{"--timeout", []string{"--timeout", "0s"}},
		{"--log-level", []string{"--log-level", "trace"}},
		{"--log-format", []string{"--log-format", "yaml"}},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			err := readCLIOptionsForTest(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.flag) {
				t.Fatalf("expected %s validation error, got %v", tt.flag, err)
			}
		})
	}
}

func TestBuildLogger_FormatNormalization(t *testing.T) {
	var buf bytes.Buffer
	logger := buildLogger(&buf, "info", "JSON")
	logger.Info("test message")
	// JSON format should produce JSON output (starts with '{')
	output := buf.String()
	if len(output) == 0 || output[0] != '{' {
		t.Fatalf("expected JSON output for format 'JSON', got: %s", output)
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := map[string]string{
		"My First Book": "my-first-book.epub",
		"Untitled":      "untitled.epub",
		"":              "book.epub",
		"!!!":           "book.epub",
	}
	for title, want := range tests {
		if got := defaultOutputPath(title); got != want {
			t.Errorf("defaultOutputPath(%q) = %q, want %q", title, got, want)
		}
	}
}

func TestChapterTitle(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		locator string
		want    string
	}{
		{"title element", "<html><head><title> The\n Start </title></head><body><h1>Other</h1></body></html>", "a.html", "The Start"},
		{"first heading", "<p>intro</p><h1>Heading</h1><h1>Second</h1>", "a.html", "Heading"},
		{"local base name", "<p>no title</p>", "./chapters/03-ending.html", "03-ending"},
		{"remote base name", "<p>no title</p>", "https://example.com/posts/intro.html?x=1", "intro"},
		{"remote host", "<p>no title</p>", "https://example.com/", "example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chapterTitle(tt.html, tt.locator); got != tt.want {
				t.Errorf("chapterTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSourceURL(t *testing.T) {
	remote := "https://example.com/a/b.html"
	if got, err := sourceURL(remote); err != nil || got != remote {
		t.Errorf("sourceURL(remote) = %q, %v", got, err)
	}
	got, err := sourceURL("chapter.html")
	if err != nil {
		t.Fatalf("sourceURL(local) error = %v", err)
	}
	if !strings.HasPrefix(got, "file:///") || !strings.HasSuffix(got, "/chapter.html") {
		t.Errorf("sourceURL(local) = %q", got)
	}
}

func testOptions(t *testing.T, inputs ...string) cliOptions {
	t.Helper()
	return cliOptions{
		Inputs:            inputs,
		OutputPath:        filepath.Join(t.TempDir(), "out.epub"),
		JPEGQuality:       defaultJPEGQuality,
		MaxImageWidth:     defaultMaxImageWidth,
		MaxImageSizeBytes: defaultMaxImageSize * 1024,
		Concurrency:       2,
		Timeout:           5 * time.Second,
		Strict:            true,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
	return p
}

func TestRun_LocalFilesWithImage(t *testing.T) {
	dir := t.TempDir()
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewNRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	writeFile(t, dir, "dot.png", img.String())
	one := writeFile(t, dir, "one.html", `<html><head><title>First</title></head><body><p>Hi <img src="dot.png"></p></body></html>`)
	two := writeFile(t, dir, "two.html", `<h1>Second</h1><p>Bye</p>`)

	opts := testOptions(t, one, two)
	if err := run(context.Background(), opts); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	data, err := os.ReadFile(opts.OutputPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	a, err := inspect.Open(data, inspect.Options{})
	if err != nil {
		t.Fatalf("inspect.Open() error = %v", err)
	}
	pkg := a.Package()
	if pkg.Metadata.Title != "First" {
		t.Errorf("book title = %q, want First", pkg.Metadata.Title)
	}
	if len(pkg.Spine) != 3 {
		t.Errorf("spine = %d entries, want 3", len(pkg.Spine))
	}
	images := 0
	for _, item := range pkg.Manifest {
		if item.MediaType == "image/png" {
			images++
		}
	}
	if images != 1 {
		t.Errorf("png assets = %d, want 1", images)
	}
	if !a.Has("style.css") {
		t.Error("style.css missing")
	}
}

func TestRun_RemoteChapterNoImages(t *testing.T) {
	var imageRequests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".png") {
			imageRequests.Add(1)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<title>Remote</title><p><img src="/pic.png"></p>`))
	}))
	defer srv.Close()

	opts := testOptions(t, srv.URL+"/post.html")
	opts.NoImages = true
	opts.Title = "Override"
	opts.Debug = true
	if err := run(context.Background(), opts); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if n := imageRequests.Load(); n != 0 {
		t.Errorf("image requests = %d, want 0", n)
	}

	zr, err := zip.OpenReader(opts.OutputPath)
	if err != nil {
		t.Fatalf("zip.OpenReader() error = %v", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name == "mimetype" {
			t.Fatal("debug build should omit mimetype")
		}
	}
}

func TestRun_MissingInput(t *testing.T) {
	opts := testOptions(t, filepath.Join(t.TempDir(), "missing.html"))
	if err := run(context.Background(), opts); err == nil {
		t.Fatal("run() error = nil, want error")
	}
	if _, err := os.Stat(opts.OutputPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output should not exist, stat error = %v", err)
	}
}

func TestRun_RejectedChapter(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.html", "<p>bell \x07</p>")
	good := writeFile(t, dir, "good.html", "<p>fine</p>")

	opts := testOptions(t, bad, good)
	if err := run(context.Background(), opts); err == nil {
		t.Fatal("strict run() error = nil, want error")
	}

	opts.Strict = false
	if err := run(context.Background(), opts); err != nil {
		t.Fatalf("lenient run() error = %v", err)
	}
	data, err := os.ReadFile(opts.OutputPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	a, err := inspect.Open(data, inspect.Options{})
	if err != nil {
		t.Fatalf("inspect.Open() error = %v", err)
	}
	if len(a.Package().Spine) != 2 {
		t.Errorf("spine = %d entries, want 2", len(a.Package().Spine))
	}
}

func TestRun_CustomStylesheet(t *testing.T) {
	dir := t.TempDir()
	css := writeFile(t, dir, "custom.css", "p { color: red; }")
	in := writeFile(t, dir, "in.html", "<p>x</p>")

	opts := testOptions(t, in)
	opts.StylesheetPath = css
	if err := run(context.Background(), opts); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	data, err := os.ReadFile(opts.OutputPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	a, err := inspect.Open(data, inspect.Options{})
	if err != nil {
		t.Fatalf("inspect.Open() error = %v", err)
	}
	got, err := a.ReadFile("style.css")
	if err != nil || string(got) != "p { color: red; }" {
		t.Errorf("style.css = %q, %v", got, err)
	}
}

func TestDefaultStylesheetEmbedded(t *testing.T) {
	if !strings.Contains(defaultStylesheet, "img") {
		t.Fatal("embedded stylesheet looks empty")
	}
}
