package imageproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/lysyi3m/rss-reader/app/database"
	"github.com/lysyi3m/rss-reader/app/fetcher"
	"github.com/lysyi3m/rss-reader/app/netguard"
)

var (
	// ErrUpstream wraps fetch failures, including destinations the guard refuses.
	ErrUpstream = errors.New("upstream image fetch failed")
	ErrNotImage = errors.New("upstream response is not an image")
)

type Fetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Response, error)
}

type Options struct {
	MaxBytes int64
	MaxAge   time.Duration // how long a cached image is served without revalidation
}

type Service struct {
	signer   *Signer
	images   database.ImageRepository
	fetcher  Fetcher
	maxBytes int64
	maxAge   time.Duration
	now      func() time.Time
}

func NewService(signer *Signer, images database.ImageRepository, f Fetcher, opts Options) *Service {
	return &Service{
		signer:   signer,
		images:   images,
		fetcher:  f,
		maxBytes: opts.MaxBytes,
		maxAge:   opts.MaxAge,
		now:      time.Now,
	}
}

func (s *Service) Signer() *Signer {
	return s.signer
}

// Serve verifies the request and returns the image, from cache when fresh.
func (s *Service) Serve(ctx context.Context, encodedURL, signature string) (*database.Image, error) {
	canonical, err := s.signer.Open(encodedURL, signature)
	if err != nil {
		return nil, err
	}

	objectID := ObjectID(canonical)
	now := s.now()

	cached, err := s.images.FindImage(database.ObjectKindProxiedImage, objectID)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.SourceURL != canonical {
		slog.Warn("Image cache key collision", "object_id", objectID, "url", canonical, "cached_url", cached.SourceURL)
		cached = nil
	}

	if cached != nil && now.Sub(cached.FetchedAt) < s.maxAge {
		return cached, nil
	}

	req := fetcher.Request{URL: canonical, Accept: "image/*", MaxBytes: s.maxBytes}
	if cached != nil {
		req.ETag = cached.ETag
		req.LastModified = cached.LastModified
	}

	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		if cached != nil && !errors.Is(err, netguard.ErrBlocked) {
			slog.Warn("Serving stale image after failed revalidation", "url", canonical, "error", err)
			return cached, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if resp.NotModified {
		if cached == nil {
			return nil, fmt.Errorf("%w: not modified without a cached copy", ErrUpstream)
		}
		if err := s.images.TouchImage(database.ObjectKindProxiedImage, objectID, now); err != nil {
			return nil, err
		}
		cached.FetchedAt = now
		return cached, nil
	}

	contentType, err := imageContentType(resp.ContentType, resp.Body)
	if err != nil {
		return nil, err
	}

	image := database.Image{
		ObjectType:   database.ObjectKindProxiedImage,
		ObjectID:     objectID,
		Data:         resp.Body,
		ContentType:  contentType,
		SourceURL:    canonical,
		ETag:         resp.ETag,
		LastModified: resp.LastModified,
		FetchedAt:    now,
	}
	if err := s.images.UpsertImage(image); err != nil {
		return nil, err
	}

	slog.Debug("Image cached", "url", canonical, "content_type", contentType, "size", len(resp.Body))
	return &image, nil
}

// imageContentType accepts image/* responses and octet-stream bodies that
// sniff as images.
func imageContentType(header string, body []byte) (string, error) {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		mediaType = ""
	}

	if strings.HasPrefix(mediaType, "image/") {
		return mediaType, nil
	}

	if mediaType == "" || mediaType == "application/octet-stream" || mediaType == "binary/octet-stream" {
		sniffed, _, _ := strings.Cut(http.DetectContentType(body), ";")
		if strings.HasPrefix(sniffed, "image/") {
			return sniffed, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrNotImage, header)
}
