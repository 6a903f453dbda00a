package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"github.com/lysyi3m/rss-reader/app/fetcher"
)

// ErrNoArticle is returned when a page has no extractable article body.
var ErrNoArticle = errors.New("no extractable article")

type Fetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Response, error)
}

type HTMLSanitizer interface {
	Sanitize(raw, baseURL string) string
}

type ContentExtractor struct {
	fetcher   Fetcher
	sanitizer HTMLSanitizer
	markdown  *MarkdownConverter
	minLength int
}

func NewContentExtractor(f Fetcher, sanitizer HTMLSanitizer, minLength int) *ContentExtractor {
	return &ContentExtractor{
		fetcher:   f,
		sanitizer: sanitizer,
		markdown:  NewMarkdownConverter(),
		minLength: minLength,
	}
}

// Run fetches articleURL and isolates its main content.
func (e *ContentExtractor) Run(ctx context.Context, articleURL string) (*Article, error) {
	resp, err := e.fetcher.Fetch(ctx, fetcher.Request{
		URL:    articleURL,
		Accept: "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5",
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrNoArticle)
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	if !isHTML(contentType) {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrNoArticle, contentType)
	}

	reader, err := charset.NewReader(bytes.NewReader(resp.Body), contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}

	pageURL, err := url.Parse(resp.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("invalid final url: %w", err)
	}

	parsed, err := readability.FromReader(reader, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	textLength := utf8.RuneCountInString(strings.TrimSpace(parsed.TextContent))
	if parsed.Content == "" || textLength < e.minLength {
		return nil, fmt.Errorf("%w: %d characters of text", ErrNoArticle, textLength)
	}

	sanitized := e.sanitizer.Sanitize(parsed.Content, resp.FinalURL)
	if sanitized == "" {
		return nil, fmt.Errorf("%w: nothing left after sanitizing", ErrNoArticle)
	}

	markdown, err := e.markdown.Run(sanitized)
	if err != nil {
		return nil, err
	}

	slog.Debug("Content extracted successfully",
		"url", resp.FinalURL,
		"title", parsed.Title,
		"content_length", len(sanitized))

	return &Article{
		URL:      resp.FinalURL,
		Title:    normalizeText(parsed.Title),
		Byline:   strings.TrimSpace(parsed.Byline),
		Excerpt:  strings.TrimSpace(parsed.Excerpt),
		HTML:     sanitized,
		Markdown: markdown,
	}, nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
