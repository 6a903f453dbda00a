package summary

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/lysyi3m/rss-reader/app/feed"
)

const DefaultExtractiveChars = 600

// ExtractiveProvider summarizes locally by keeping the leading paragraphs of
// the entry. It is used when no remote provider is configured.
type ExtractiveProvider struct {
	markdown *feed.MarkdownConverter
	maxChars int
}

func NewExtractiveProvider(maxChars int) *ExtractiveProvider {
	if maxChars <= 0 {
		maxChars = DefaultExtractiveChars
	}
	return &ExtractiveProvider{
		markdown: feed.NewMarkdownConverter(),
		maxChars: maxChars,
	}
}

func (p *ExtractiveProvider) Name() string {
	return "extractive"
}

func (p *ExtractiveProvider) Summarize(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	markdown, err := p.markdown.Run(req.Content)
	if err != nil {
		return "", err
	}

	var (
		kept  []string
		count int
	)
	for _, paragraph := range strings.Split(markdown, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if !isProse(paragraph) {
			continue
		}
		kept = append(kept, paragraph)
		count += utf8.RuneCountInString(paragraph)
		if count >= p.maxChars {
			break
		}
	}

	if len(kept) == 0 {
		return "", errors.New("entry has no text to summarize")
	}

	return truncateRunes(strings.Join(kept, "\n\n"), p.maxChars), nil
}

func isProse(paragraph string) bool {
	if paragraph == "" {
		return false
	}
	for _, prefix := range []string{"#", "![", "|", "```", "---", "* * *"} {
		if strings.HasPrefix(paragraph, prefix) {
			return false
		}
	}
	return true
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:limit]), " \n")
	if i := strings.LastIndexAny(cut, " \n"); i > limit/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
