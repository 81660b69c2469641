// Package fetch downloads remote archives and files over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
	"github.com/novuscode/novuscode-api/internal/retry"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultMaxBytes = 200 << 20
	userAgent       = "novuscode-api"
)

// Result is a downloaded body.
type Result struct {
	Data        []byte
	ContentType string
	StatusCode  int
}

// Downloader performs bounded GET requests.
type Downloader struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	retry    retry.Policy
	logger   zerolog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

func WithTimeout(d time.Duration) Option {
	return func(dl *Downloader) {
		if d > 0 {
			dl.timeout = d
		}
	}
}

func WithMaxBytes(n int64) Option {
	return func(dl *Downloader) {
		if n > 0 {
			dl.maxBytes = n
		}
	}
}

// WithRetry sets the policy for transient failures (429, 5xx, transport).
func WithRetry(p retry.Policy) Option {
	return func(dl *Downloader) { dl.retry = p }
}

func WithHTTPClient(c *http.Client) Option {
	return func(dl *Downloader) { dl.client = c }
}

// New creates a Downloader.
func New(logger zerolog.Logger, opts ...Option) *Downloader {
	dl := &Downloader{
		client:   &http.Client{},
		timeout:  defaultTimeout,
		maxBytes: defaultMaxBytes,
		retry:    retry.None(),
		logger:   logger.With().Str("component", "fetch").Logger(),
	}
	for _, o := range opts {
		o(dl)
	}
	return dl
}

// Get downloads rawURL. A gzip content-encoding is decoded transparently.
// Transport failures, timeouts and non-2xx statuses are UpstreamFetch errors.
func (d *Downloader) Get(ctx context.Context, rawURL string) (*Result, error) {
	const op = "fetch.Get"

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, perrors.Validation(op, "A valid http(s) URL is required.")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var res *Result
	err = retry.Do(ctx, d.retry, func(ctx context.Context) error {
		var err error
		res, err = d.get(ctx, u)
		if err != nil && perrors.IsRetryable(err) {
			d.logger.Debug().Err(err).Str("url", u.Redacted()).Msg("retrying remote fetch")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Downloader) get(ctx context.Context, u *url.URL) (*Result, error) {
	const op = "fetch.Get"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, perrors.E(perrors.KindUpstreamFetch, op, "Error fetching remote content.", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		msg := "Error fetching remote content."
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "Timed out fetching remote content."
		}
		return nil, perrors.E(perrors.KindUpstreamFetch, op, msg, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := perrors.NewAPIError("fetch", resp.StatusCode, http.StatusText(resp.StatusCode))
		return nil, perrors.E(perrors.KindUpstreamFetch, op,
			fmt.Sprintf("Remote responded with status %d.", resp.StatusCode), apiErr)
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, perrors.E(perrors.KindUpstreamFetch, op, "Error decoding remote content.", err)
		}
		defer zr.Close()
		body = zr
	}

	data, err := io.ReadAll(io.LimitReader(body, d.maxBytes+1))
	if err != nil {
		return nil, perrors.E(perrors.KindUpstreamFetch, op, "Error reading remote content.", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, perrors.E(perrors.KindUpstreamFetch, op,
			fmt.Sprintf("Remote content exceeds %d bytes.", d.maxBytes), nil)
	}

	d.logger.Debug().
		Str("url", u.Redacted()).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("fetched remote content")

	return &Result{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}
