// Package fetcher performs outbound HTTP GETs for feeds, articles and images.
// Every request, redirect hop and connection goes through the SSRF guard.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lysyi3m/rss-reader/app/netguard"
)

// ErrTooLarge is returned when a body exceeds the configured size limit.
var ErrTooLarge = errors.New("response body exceeds size limit")

type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %s", e.Status)
}

type Request struct {
	URL          string
	ETag         string // sent as If-None-Match
	LastModified string // sent as If-Modified-Since
	Accept       string
	MaxBytes     int64 // overrides the fetcher default when positive
}

type Response struct {
	NotModified  bool
	StatusCode   int
	Body         []byte
	ContentType  string
	ETag         string
	LastModified string
	FinalURL     string
}

type Options struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
}

type Fetcher struct {
	guard     *netguard.Guard
	client    *http.Client
	userAgent string
	maxBytes  int64
}

func New(guard *netguard.Guard, opts Options) *Fetcher {
	transport := &http.Transport{
		DialContext:           guard.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}

	return &Fetcher{
		guard: guard,
		client: &http.Client{
			Transport:     transport,
			Timeout:       opts.Timeout,
			CheckRedirect: guard.CheckRedirect,
		},
		userAgent: opts.UserAgent,
		maxBytes:  maxBytes,
	}
}

// Fetch performs a conditional GET. A 304 is reported through NotModified with
// the validators echoed back when the server omits them; any other non-2xx
// status is a *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, r Request) (*Response, error) {
	target, err := f.guard.ValidateRawURL(ctx, r.URL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if r.Accept != "" {
		req.Header.Set("Accept", r.Accept)
	}
	if r.ETag != "" {
		req.Header.Set("If-None-Match", r.ETag)
	}
	if r.LastModified != "" {
		req.Header.Set("If-Modified-Since", r.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", r.URL, err)
	}
	defer resp.Body.Close()

	result := &Response{
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FinalURL:     resp.Request.URL.String(),
	}

	if resp.StatusCode == http.StatusNotModified {
		result.NotModified = true
		if result.ETag == "" {
			result.ETag = r.ETag
		}
		if result.LastModified == "" {
			result.LastModified = r.LastModified
		}
		return result, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	limit := f.maxBytes
	if r.MaxBytes > 0 {
		limit = r.MaxBytes
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %d bytes declared", ErrTooLarge, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}

	result.Body = body
	return result, nil
}
