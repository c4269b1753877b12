package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for input downloads.
	DefaultFetchTimeout = 5 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// defaultMaxBytes limits a download to 4 GiB.
	defaultMaxBytes = 4 << 30
)

// FetchOption configures FetchCloudFile behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBytes    int64
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		maxBytes:    defaultMaxBytes,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithMaxBytes caps the size of a download.
func WithMaxBytes(n int64) FetchOption {
	return func(c *fetchConfig) {
		c.maxBytes = n
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// errPermanent marks failures that a retry cannot fix
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// IsRemote reports whether the input names an http(s) URL rather than a path
func IsRemote(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// FetchCloudFile downloads a point cloud file into dir (os.TempDir() when
// empty) and returns the local path. The file keeps the URL's extension so
// LoadFile can pick the format. Network errors and 5xx responses are retried
// with exponential backoff; other statuses fail immediately.
func FetchCloudFile(ctx context.Context, rawURL, dir string, opts ...FetchOption) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("fetch cloud: URL is empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch cloud: %w", err)
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("fetch cloud: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		p, err := downloadOnce(ctx, client, rawURL, dir, path.Ext(u.Path), cfg.maxBytes)
		if err == nil {
			return p, nil
		}
		var perm errPermanent
		if errors.As(err, &perm) {
			return "", fmt.Errorf("fetch cloud: %w", perm.err)
		}
		lastErr = err
	}

	return "", fmt.Errorf("fetch cloud: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

// downloadOnce performs a single GET and streams the body into a new temp file.
func downloadOnce(ctx context.Context, client *http.Client, rawURL, dir, ext string, maxBytes int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errPermanent{fmt.Errorf("creating request: %w", err)}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP GET %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP GET %s: status %d", rawURL, resp.StatusCode)
		if resp.StatusCode < 500 {
			return "", errPermanent{err}
		}
		return "", err
	}

	f, err := os.CreateTemp(dir, "lodmesh-input-*"+ext)
	if err != nil {
		return "", errPermanent{fmt.Errorf("creating download file: %w", err)}
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxBytes {
		err = errPermanent{fmt.Errorf("HTTP GET %s: body exceeds %d bytes", rawURL, maxBytes)}
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("reading response from %s: %w", rawURL, err)
	}
	return f.Name(), nil
}
