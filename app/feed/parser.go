package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/text/unicode/norm"
)

// Parser auto-detects RSS, Atom and JSON Feed documents from their content.
type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

func (p *Parser) Run(data []byte) (*Metadata, []Item, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title:       normalizeText(feed.Title),
		Link:        strings.TrimSpace(feed.Link),
		Description: strings.TrimSpace(feed.Description),
		Language:    feed.Language,
	}

	if feed.Image != nil {
		metadata.ImageURL = feed.Image.URL
	}

	if feed.UpdatedParsed != nil {
		metadata.FeedUpdatedAt = feed.UpdatedParsed
	} else if feed.PublishedParsed != nil {
		metadata.FeedUpdatedAt = feed.PublishedParsed
	}

	items := make([]Item, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		items = append(items, p.normalizeItem(item))
	}

	return metadata, items, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Item {
	normalized := Item{
		GUID:        strings.TrimSpace(item.GUID),
		Title:       normalizeText(item.Title),
		Link:        strings.TrimSpace(item.Link),
		Description: item.Description,
		Content:     item.Content,
		PublishedAt: item.PublishedParsed,
		UpdatedAt:   item.UpdatedParsed,
		Categories:  item.Categories,
	}

	// Atom feeds may carry several links; the first alternate one wins.
	if normalized.Link == "" && len(item.Links) > 0 {
		normalized.Link = strings.TrimSpace(item.Links[0])
	}

	normalized.Authors = p.extractAuthors(item)

	return normalized
}

func (p *Parser) extractAuthors(item *gofeed.Item) []string {
	var authors []string

	if len(item.Authors) > 0 {
		for _, author := range item.Authors {
			if author != nil {
				if s := formatAuthor(author.Name, author.Email); s != "" {
					authors = append(authors, s)
				}
			}
		}
	} else if item.Author != nil {
		if s := formatAuthor(item.Author.Name, item.Author.Email); s != "" {
			authors = append(authors, s)
		}
	}

	return authors
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	} else if email != "" {
		return email
	}

	return ""
}

// CanonicalURL returns the identity URL of the item: its link, resolved
// against siteURL when relative, or else its GUID when that is an absolute
// http(s) URL. An empty result means the item cannot be stored.
func (i Item) CanonicalURL(siteURL string) string {
	if i.Link != "" {
		if link, err := url.Parse(i.Link); err == nil {
			if isHTTP(link) {
				return link.String()
			}
			if !link.IsAbs() && siteURL != "" {
				if base, err := url.Parse(siteURL); err == nil && isHTTP(base) {
					return base.ResolveReference(link).String()
				}
			}
		}
	}

	if guid, err := url.Parse(i.GUID); err == nil && isHTTP(guid) {
		return guid.String()
	}

	return ""
}

func isHTTP(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
