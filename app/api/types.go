package api

import (
	"context"

	"github.com/lysyi3m/rss-reader/app/database"
	"github.com/lysyi3m/rss-reader/app/feed"
	"github.com/lysyi3m/rss-reader/app/imageproxy"
	"github.com/lysyi3m/rss-reader/app/summary"
	"github.com/lysyi3m/rss-reader/app/tasks"
)

type FeedSyncer interface {
	Sync(ctx context.Context, feedID int64, resync bool) (*tasks.SyncResult, error)
}

type ImageServer interface {
	Serve(ctx context.Context, encodedURL, signature string) (*database.Image, error)
}

type SummaryService interface {
	Get(entryID int64) (*summary.Result, error)
	Request(entryID int64) (*summary.Result, error)
}

type ArticleExtractor interface {
	Run(ctx context.Context, articleURL string) (*feed.Article, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

var (
	_ FeedSyncer       = (*tasks.SyncEngine)(nil)
	_ ImageServer      = (*imageproxy.Service)(nil)
	_ SummaryService   = (*summary.Service)(nil)
	_ ArticleExtractor = (*feed.ContentExtractor)(nil)
)

// Deps are the collaborators served over HTTP.
type Deps struct {
	DB          Pinger
	ConfigCache *feed.ConfigCache
	FeedRepo    database.FeedRepository
	EntryRepo   database.EntryRepository
	Syncer      FeedSyncer
	Images      ImageServer
	Summaries   SummaryService
	Extractor   ArticleExtractor
	Version     string
}

type Handler struct {
	db          Pinger
	configCache *feed.ConfigCache
	feedRepo    database.FeedRepository
	entryRepo   database.EntryRepository
	syncer      FeedSyncer
	images      ImageServer
	summaries   SummaryService
	extractor   ArticleExtractor
	version     string
}
