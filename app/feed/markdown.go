package feed

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// MarkdownConverter renders sanitized HTML as GitHub flavored Markdown.
type MarkdownConverter struct {
	converter *md.Converter
}

func NewMarkdownConverter() *MarkdownConverter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &MarkdownConverter{converter: converter}
}

func (c *MarkdownConverter) Run(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	markdown, err := c.converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}

	return strings.TrimSpace(excessiveLinesRe.ReplaceAllString(markdown, "\n\n")), nil
}
