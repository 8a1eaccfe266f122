package main

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultJPEGQuality   = 85
	defaultMaxImageWidth = 1200
	defaultMaxImageSize  = 512 // KB
	defaultConcurrency   = 4
	defaultRate          = 4.0
	defaultTimeout       = 30 * time.Second
)

//go:embed default.css
var defaultStylesheet string

type cliOptions struct {
	Inputs            []string
	OutputPath        string
	Title             string
	Author            string
	Debug             bool
	NoImages          bool
	Strict            bool
	JPEGQuality       int
	MaxImageWidth     int
	MaxImageSizeBytes int
	Concurrency       int
	RatePerSecond     float64
	Timeout           time.Duration
	StylesheetPath    string
	Logger            *slog.Logger
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "html2epub [flags] <chapter>...",
		Short: "Package HTML documents into an EPUB 3 book",
		Long: `html2epub packages one or more HTML documents into an EPUB 3 book.

Each argument is a local file or an http(s) URL and becomes one chapter,
in argument order. Images referenced by the chapters are fetched,
resized and embedded in the book.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().String("title", "", "Book title (default: title of the first chapter)")
	cmd.Flags().String("author", "", "Book author (default: publisher name)")
	cmd.Flags().StringP("output", "o", "", "Output file path (default: slug of the title with .epub extension)")
	cmd.Flags().Bool("debug", false, "Omit the mimetype entry so the archive can be inspected as a plain zip")
	cmd.Flags().Bool("no-images", false, "Keep image references instead of embedding images")
	cmd.Flags().Int("quality", defaultJPEGQuality, "JPEG quality (60-100)")
	cmd.Flags().Int("max-image-width", defaultMaxImageWidth, "Max image width in pixels")
	cmd.Flags().Int("max-image-size", defaultMaxImageSize, "Max image size in KB")
	cmd.Flags().Int("concurrency", defaultConcurrency, "Parallel fetches for chapters and images")
	cmd.Flags().Float64("rate", defaultRate, "Remote requests per second (0 disables throttling)")
	cmd.Flags().Duration("timeout", defaultTimeout, "Timeout for each remote request")
	cmd.Flags().String("stylesheet", "", "CSS file to use instead of the built-in stylesheet")
	cmd.Flags().Bool("strict", false, "Fail on rejected chapters and on structural problems in the result")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
	cmd.Flags().BoolP("verbose", "v", false, "Shortcut for --log-level debug")

	return cmd
}

func readCLIOptions(cmd *cobra.Command, args []string) (cliOptions, error) {
	flags := cmd.Flags()
	opts := cliOptions{Inputs: args}

	opts.Title, _ = flags.GetString("title")
	opts.Author, _ = flags.GetString("author")
	opts.OutputPath, _ = flags.GetString("output")
	opts.Debug, _ = flags.GetBool("debug")
	opts.NoImages, _ = flags.GetBool("no-images")
	opts.Strict, _ = flags.GetBool("strict")
	opts.StylesheetPath, _ = flags.GetString("stylesheet")

	quality, _ := flags.GetInt("quality")
	if quality < 60 || quality > 100 {
		return opts, fmt.Errorf("--quality must be between 60 and 100, got %d", quality)
	}
	opts.JPEGQuality = quality

	maxWidth, _ := flags.GetInt("max-image-width")
	if maxWidth <= 0 {
		return opts, fmt.Errorf("--max-image-width must be positive, got %d", maxWidth)
	}
	opts.MaxImageWidth = maxWidth

	maxSize, _ := flags.GetInt("max-image-size")
	if maxSize <= 0 {
		return opts, fmt.Errorf("--max-image-size must be positive, got %d", maxSize)
	}
	opts.MaxImageSizeBytes = maxSize * 1024

	concurrency, _ := flags.GetInt("concurrency")
	if concurrency < 1 {
		return opts, fmt.Errorf("--concurrency must be at least 1, got %d", concurrency)
	}
	opts.Concurrency = concurrency

	rate, _ := flags.GetFloat64("rate")
	if rate < 0 {
		return opts, fmt.Errorf("--rate must not be negative, got %g", rate)
	}
	opts.RatePerSecond = rate

	timeout, _ := flags.GetDuration("timeout")
	if timeout <= 0 {
		return opts, fmt.Errorf("--timeout must be positive, got %s", timeout)
	}
	opts.Timeout = timeout

	level, _ := flags.GetString("log-level")
	level = strings.ToLower(level)
	if !validLogLevel(level) {
		return opts, fmt.Errorf("--log-level must be one of debug, info, warn, error, got %q", level)
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		level = "debug"
	}

	format, _ := flags.GetString("log-format")
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return opts, fmt.Errorf("--log-format must be text or json, got %q", format)
	}

	opts.Logger = buildLogger(os.Stderr, level, format)
	return opts, nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
