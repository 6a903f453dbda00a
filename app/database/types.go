package database

import (
	"time"
)

// NewEntry carries a sanitized feed item into the entries table.
type NewEntry struct {
	URL         string
	GUID        string
	Title       string
	Author      string
	Content     string
	Summary     string
	PublishedAt time.Time
	FetchedAt   time.Time
}

// FetchResult describes a sync that returned and parsed a feed document.
type FetchResult struct {
	FetchedAt     time.Time
	ETag          string
	LastModified  string
	Title         string
	Description   string
	SiteURL       string
	HasNewEntries bool
}
