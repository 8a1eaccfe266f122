// Package fetch retrieves chapter documents and images from http(s), data:
// and file locators.
package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxBytes  = 32 << 20
	DefaultUserAgent = "html2epub/1.0"
)

var (
	ErrUnsupportedScheme = errors.New("fetch: unsupported locator scheme")
	ErrStatus            = errors.New("fetch: unexpected HTTP status")
	ErrTooLarge          = errors.New("fetch: resource exceeds size limit")
	ErrInvalidDataURI    = errors.New("fetch: malformed data URI")
)

// Options configures a Fetcher. Zero values select the defaults.
type Options struct {
	// RatePerSecond throttles remote requests; zero or less disables it.
	RatePerSecond float64
	Timeout       time.Duration
	MaxBytes      int64
	UserAgent     string
}

// Resource is one fetched payload.
type Resource struct {
	Data        []byte
	ContentType string
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	Client    *http.Client
	Limiter   *rate.Limiter
	MaxBytes  int64
	UserAgent string
}

// New creates a Fetcher from opts.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	f := &Fetcher{
		Client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		MaxBytes:  opts.MaxBytes,
		UserAgent: opts.UserAgent,
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		f.Limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return f
}

// Fetch retrieves the resource named by locator. A locator without a
// scheme is a local file path.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (Resource, error) {
	if err := ctx.Err(); err != nil {
		return Resource{}, err
	}
	if isWindowsPath(locator) {
		return f.readFile(locator)
	}
	u, err := url.Parse(locator)
	if err != nil {
		if !strings.Contains(locator, ":") {
			return f.readFile(locator)
		}
		return Resource{}, fmt.Errorf("fetch: invalid locator %q: %w", locator, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.fetchHTTP(ctx, u)
	case "data":
		return f.decodeData(locator)
	case "file":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		return f.readFile(p)
	case "":
		return f.readFile(locator)
	default:
		return Resource{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL) (Resource, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return Resource{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Resource{}, fmt.Errorf("GET %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Resource{}, fmt.Errorf("%w: GET %s: %s", ErrStatus, u.Redacted(), resp.Status)
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return Resource{}, fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, u.Redacted(), resp.ContentLength)
	}

	data, err := f.readLimited(resp.Body, u.Redacted())
	if err != nil {
		return Resource{}, err
	}
	return Resource{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (f *Fetcher) readLimited(r io.Reader, name string) ([]byte, error) {
	if f.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, name)
	}
	return data, nil
}

func (f *Fetcher) readFile(p string) (Resource, error) {
	file, err := os.Open(p)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer file.Close()

	data, err := f.readLimited(file, p)
	if err != nil {
		return Resource{}, err
	}
	return Resource{Data: data}, nil
}

// decodeData decodes an RFC 2397 data URI.
func (f *Fetcher) decodeData(locator string) (Resource, error) {
	rest := locator[len("data:"):]
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Resource{}, ErrInvalidDataURI
	}

	contentType := meta
	isBase64 := false
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		isBase64 = true
		contentType = meta[:len(meta)-len(";base64")]
	}
	if contentType == "" {
		contentType = "text/plain;charset=US-ASCII"
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			return Resource{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return Resource{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
		data = []byte(unescaped)
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return Resource{}, fmt.Errorf("%w: data URI", ErrTooLarge)
	}
	return Resource{Data: data, ContentType: contentType}, nil
}

// FileURL returns the file:// locator of a local path.
func FileURL(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// IsRemote reports whether locator names an http(s) resource.
func IsRemote(locator string) bool {
	lower := strings.ToLower(locator)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func isWindowsPath(p string) bool {
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/') &&
		(p[0] >= 'a' && p[0] <= 'z' || p[0] >= 'A' && p[0] <= 'Z')
}
