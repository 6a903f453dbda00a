package feed

import (
	"time"
)

// Feed processing types

type Metadata struct {
	Title         string
	Link          string
	Description   string
	ImageURL      string
	Language      string
	FeedUpdatedAt *time.Time
}

type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt *time.Time
	UpdatedAt   *time.Time
	Authors     []string // "email (name)" or "name"
	Categories  []string
}

// Article extraction types

type Article struct {
	URL      string // final URL after redirects
	Title    string
	Byline   string
	Excerpt  string
	HTML     string // sanitized
	Markdown string
}

// Configuration types

// Config is a feed seed read from feeds/<name>.yml.
type Config struct {
	Name     string // derived from filename (without .yml extension)
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	Title    string `yaml:"title"`
}
