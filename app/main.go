package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-reader/app/api"
	"github.com/lysyi3m/rss-reader/app/cfg"
	"github.com/lysyi3m/rss-reader/app/database"
	"github.com/lysyi3m/rss-reader/app/feed"
	"github.com/lysyi3m/rss-reader/app/fetcher"
	"github.com/lysyi3m/rss-reader/app/imageproxy"
	"github.com/lysyi3m/rss-reader/app/netguard"
	"github.com/lysyi3m/rss-reader/app/sanitize"
	"github.com/lysyi3m/rss-reader/app/summary"
	"github.com/lysyi3m/rss-reader/app/tasks"
)

const summaryWarmLimit = 1000

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// help was shown
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting RSS Reader", "version", appCfg.Version)

	db, err := database.OpenMigrated(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database ready", "path", appCfg.DBPath)

	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load feed configurations", "dir", appCfg.FeedsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Feed configurations loaded", "count", configCache.GetConfigCount())

	feedRepo := database.NewFeedRepository(db)
	entryRepo := database.NewEntryRepository(db)
	imageRepo := database.NewImageRepository(db)
	summaryRepo := database.NewSummaryRepository(db)

	guard, err := netguard.New(netguard.Config{AllowCIDRs: appCfg.SSRFAllowCIDRs})
	if err != nil {
		slog.Error("Invalid SSRF allow-list", "error", err)
		os.Exit(1)
	}

	httpFetcher := fetcher.New(guard, fetcher.Options{
		UserAgent: appCfg.UserAgent,
		Timeout:   appCfg.FetchTimeout,
		MaxBytes:  appCfg.MaxFeedBytes,
	})

	signer := imageproxy.NewSigner(appCfg.ImageProxySecret,
		strings.TrimSuffix(appCfg.BaseUrl, "/")+imageproxy.DefaultPath)

	policy, err := sanitize.LoadPolicy(appCfg.SanitizePolicyFile)
	if err != nil {
		slog.Error("Failed to load sanitizer policy", "file", appCfg.SanitizePolicyFile, "error", err)
		os.Exit(1)
	}
	sanitizer := sanitize.New(policy, sanitize.WithImageRewriter(signer.ProxyURL))

	engine := tasks.NewSyncEngine(feedRepo, entryRepo, httpFetcher, feed.NewParser(), sanitizer)
	extractor := feed.NewContentExtractor(httpFetcher, sanitizer, appCfg.ExtractMinLength)
	images := imageproxy.NewService(signer, imageRepo, httpFetcher, imageproxy.Options{
		MaxBytes: appCfg.MaxImageBytes,
		MaxAge:   appCfg.ImageMaxAge,
	})

	var provider summary.Provider
	if appCfg.KagiSessionToken != "" {
		provider = summary.NewKagiProvider(appCfg.KagiSessionToken, appCfg.KagiLanguage, summary.KagiOptions{
			Timeout:   appCfg.SummaryTimeout,
			UserAgent: appCfg.UserAgent,
		})
	} else {
		provider = summary.NewExtractiveProvider(0)
	}

	summaryCache := summary.NewCache(appCfg.SummaryCacheTTL)
	summaryQueue := summary.NewQueue(appCfg.SummaryQueueSize)
	summaries := summary.NewService(entryRepo, summaryRepo, summaryCache, summaryQueue)
	worker := summary.NewWorker(entryRepo, summaryRepo, provider, summaryCache, summaryQueue, summary.WorkerOptions{
		Workers:     appCfg.SummaryWorkers,
		Lease:       appCfg.SummaryLease,
		Timeout:     appCfg.SummaryTimeout,
		MaxAttempts: appCfg.SummaryMaxAttempts,
	})
	cleanup := summary.NewCleanup(summaryRepo, summaryCache, appCfg.SummaryRetention)

	if warmed, err := summaries.WarmCache(summaryWarmLimit); err != nil {
		slog.Warn("Failed to warm summary cache", "error", err)
	} else {
		slog.Info("Summary cache warmed", "summaries", warmed, "provider", provider.Name())
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		worker.Run(workerCtx)
	}()

	scheduler := tasks.NewScheduler(feedRepo, engine, configCache, tasks.SchedulerOptions{
		WorkerCount: appCfg.WorkerCount,
	})
	scheduler.Every(appCfg.SummarySweepInterval, func() tasks.TaskInterface {
		return tasks.NewSweepSummariesTask(worker)
	})
	scheduler.Every(appCfg.CleanupInterval, func() tasks.TaskInterface {
		return tasks.NewCleanupSummariesTask(cleanup)
	})
	scheduler.Start()
	slog.Info("Background scheduler started", "workers", appCfg.WorkerCount, "buckets", tasks.BucketCount)

	handler := api.NewHandler(api.Deps{
		DB:          db,
		ConfigCache: configCache,
		FeedRepo:    feedRepo,
		EntryRepo:   entryRepo,
		Syncer:      engine,
		Images:      images,
		Summaries:   summaries,
		Extractor:   extractor,
		Version:     appCfg.Version,
	})

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2*appCfg.FetchTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	scheduler.Stop()
	slog.Info("Background scheduler stopped")

	stopWorker()
	workerWG.Wait()

	slog.Info("Shutdown complete")
}
