package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-reader/app/feed"
	"github.com/lysyi3m/rss-reader/app/imageproxy"
	"github.com/lysyi3m/rss-reader/app/netguard"
	"github.com/lysyi3m/rss-reader/app/summary"
	"github.com/lysyi3m/rss-reader/app/tasks"
)

const imageCacheControl = "public, max-age=86400"

func NewHandler(deps Deps) *Handler {
	return &Handler{
		db:          deps.DB,
		configCache: deps.ConfigCache,
		feedRepo:    deps.FeedRepo,
		entryRepo:   deps.EntryRepo,
		syncer:      deps.Syncer,
		images:      deps.Images,
		summaries:   deps.Summaries,
		extractor:   deps.Extractor,
		version:     deps.Version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	status := http.StatusOK
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		slog.Error("Database ping failed", "error", err)
		health["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		health["database"] = "ok"
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		health["feeds"] = feedCount
	}

	if h.configCache != nil {
		health["loaded_configurations"] = h.configCache.GetConfigCount()
	}

	c.JSON(status, health)
}

func (h *Handler) GetProxiedImage(c *gin.Context) {
	encodedURL := c.Query("url")
	signature := c.Query("s")
	if encodedURL == "" || signature == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	image, err := h.images.Serve(c.Request.Context(), encodedURL, signature)
	switch {
	case errors.Is(err, imageproxy.ErrInvalidSignature):
		c.Status(http.StatusForbidden)
		return
	case errors.Is(err, imageproxy.ErrUpstream), errors.Is(err, imageproxy.ErrNotImage):
		slog.Warn("Image proxy upstream error", "error", err)
		c.Status(http.StatusBadGateway)
		return
	case err != nil:
		slog.Error("Image proxy error", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Cache-Control", imageCacheControl)
	c.Header("X-Content-Type-Options", "nosniff")
	if image.ContentType == "image/svg+xml" {
		c.Header("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
	}
	if image.ETag != "" {
		c.Header("ETag", image.ETag)
	}
	if image.LastModified != "" {
		c.Header("Last-Modified", image.LastModified)
	}

	if image.ETag != "" && c.GetHeader("If-None-Match") == image.ETag {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(http.StatusOK, image.ContentType, image.Data)
}

func (h *Handler) ListFeeds(c *gin.Context) {
	feeds, err := h.feedRepo.ListFeeds()
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	result := make([]map[string]interface{}, 0, len(feeds))
	for _, f := range feeds {
		feedInfo := map[string]interface{}{
			"id":               f.ID,
			"category_id":      f.CategoryID,
			"url":              f.URL,
			"title":            f.Title,
			"site_url":         f.SiteURL,
			"bucket":           tasks.Bucket(f.URL),
			"last_fetched_at":  f.LastFetchedAt,
			"last_parsed_at":   f.LastParsedAt,
			"last_fetch_error": f.LastFetchError,
			"feed_updated_at":  f.FeedUpdatedAt,
		}

		if entryCount, err := h.entryRepo.GetEntryCount(f.ID); err == nil {
			feedInfo["entry_count"] = entryCount
		}

		result = append(result, feedInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": result,
		"total": len(result),
	})
}

func (h *Handler) SyncFeed(c *gin.Context) {
	feedID, ok := parseID(c)
	if !ok {
		return
	}

	resync, _ := strconv.ParseBool(c.DefaultQuery("resync", "false"))

	result, err := h.syncer.Sync(c.Request.Context(), feedID, resync)
	if errors.Is(err, tasks.ErrFeedNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}
	if err != nil {
		slog.Warn("Manual feed sync failed", "feed_id", feedID, "resync", resync, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Feed sync failed",
			"details": err.Error(),
		})
		return
	}

	slog.Info("Manual feed sync completed", "feed_id", feedID, "resync", resync,
		"new", result.Inserted, "updated", result.Updated)

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetSummary(c *gin.Context) {
	entryID, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.summaries.Get(entryID)
	h.writeSummary(c, entryID, result, err)
}

func (h *Handler) RequestSummary(c *gin.Context) {
	entryID, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.summaries.Request(entryID)
	h.writeSummary(c, entryID, result, err)
}

// writeSummary answers 200 for settled summaries and 202 while work is outstanding.
func (h *Handler) writeSummary(c *gin.Context, entryID int64, result *summary.Result, err error) {
	if errors.Is(err, summary.ErrEntryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return
	}
	if err != nil {
		slog.Error("Summary request failed", "entry_id", entryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	status := http.StatusAccepted
	if result.Status.IsTerminal() {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *Handler) GetReadable(c *gin.Context) {
	entryID, ok := parseID(c)
	if !ok {
		return
	}

	format := c.Query("format")
	if format != "" && format != "html" && format != "markdown" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be html or markdown"})
		return
	}

	entry, err := h.entryRepo.GetEntry(entryID)
	if err != nil {
		slog.Error("Database error", "operation", "get_entry", "entry_id", entryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return
	}

	article, err := h.extractor.Run(c.Request.Context(), entry.URL)
	switch {
	case errors.Is(err, feed.ErrNoArticle):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "No readable content", "details": err.Error()})
		return
	case errors.Is(err, netguard.ErrBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "Destination not allowed"})
		return
	case err != nil:
		slog.Warn("Content extraction failed", "entry_id", entryID, "url", entry.URL, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Content extraction failed", "details": err.Error()})
		return
	}

	switch format {
	case "html":
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(article.HTML))
	case "markdown":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(article.Markdown))
	default:
		c.JSON(http.StatusOK, gin.H{
			"entry_id": entryID,
			"url":      article.URL,
			"title":    article.Title,
			"byline":   article.Byline,
			"excerpt":  article.Excerpt,
			"html":     article.HTML,
			"markdown": article.Markdown,
		})
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id parameter"})
		return 0, false
	}
	return id, true
}
