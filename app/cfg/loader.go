package cfg

import (
	"cmp"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

const minSecretLength = 16

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./data/rss.db" description:"Path to the SQLite database file"`

	// Application configuration
	FeedsDir     string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed seed files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://rss.example.com)"`
	WorkerCount  int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Maximum number of concurrent feed syncs"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Fetching
	FetchTimeout   time.Duration `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30s" description:"Timeout for outbound feed, article and image fetches"`
	MaxFeedBytes   int64         `long:"max-feed-bytes" env:"MAX_FEED_BYTES" default:"5242880" description:"Maximum size of a fetched feed or article"`
	MaxImageBytes  int64         `long:"max-image-bytes" env:"MAX_IMAGE_BYTES" default:"10485760" description:"Maximum size of a proxied image"`
	ImageMaxAge    time.Duration `long:"image-max-age" env:"IMAGE_MAX_AGE" default:"168h" description:"How long a cached proxied image is served without revalidation"`
	SSRFAllowCIDRs []string      `long:"ssrf-allow-cidr" env:"SSRF_ALLOW_CIDRS" env-delim:"," description:"Network ranges exempt from the private address denylist"`

	// Content processing
	ImageProxySecret   string `long:"image-proxy-secret" env:"IMAGE_PROXY_SECRET" description:"Secret for signing image proxy URLs (base64 or raw, at least 16 bytes)"`
	SanitizePolicyFile string `long:"sanitize-policy" env:"SANITIZE_POLICY" description:"YAML file overriding tracking parameter and host patterns"`
	ExtractMinLength   int    `long:"extract-min-length" env:"EXTRACT_MIN_LENGTH" default:"200" description:"Minimum text length for an extracted article"`

	// Summarization
	KagiSessionToken     string        `long:"kagi-session-token" env:"KAGI_SESSION_TOKEN" description:"Kagi session token; the extractive summarizer is used when empty"`
	KagiLanguage         string        `long:"kagi-language" env:"KAGI_LANGUAGE" default:"EN" description:"Target language for Kagi summaries"`
	SummaryWorkers       int           `long:"summary-workers" env:"SUMMARY_WORKERS" default:"2" description:"Number of concurrent summarization jobs"`
	SummaryQueueSize     int           `long:"summary-queue-size" env:"SUMMARY_QUEUE_SIZE" default:"100" description:"Capacity of the summarization queue"`
	SummaryLease         time.Duration `long:"summary-lease" env:"SUMMARY_LEASE" default:"2m" description:"Lease held on a processing summary before it can be reclaimed"`
	SummaryTimeout       time.Duration `long:"summary-timeout" env:"SUMMARY_TIMEOUT" default:"60s" description:"Timeout for a single summarization provider call"`
	SummarySweepInterval time.Duration `long:"summary-sweep-interval" env:"SUMMARY_SWEEP_INTERVAL" default:"30s" description:"Interval for re-queueing pending and expired summaries"`
	SummaryMaxAttempts   int           `long:"summary-max-attempts" env:"SUMMARY_MAX_ATTEMPTS" default:"3" description:"Attempts before a transiently failing summary is marked failed"`
	SummaryCacheTTL      time.Duration `long:"summary-cache-ttl" env:"SUMMARY_CACHE_TTL" default:"24h" description:"Lifetime of in-memory summary cache entries"`
	SummaryRetention     time.Duration `long:"summary-retention" env:"SUMMARY_RETENTION" default:"72h" description:"How long failed summaries are kept"`
	CleanupInterval      time.Duration `long:"cleanup-interval" env:"CLEANUP_INTERVAL" default:"1h" description:"Interval of the summary cleanup pass"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RSS Reader/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs parses the given arguments together with the environment.
// It returns nil without error when help was requested.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	secret, generated, err := ResolveSecret(raw.ImageProxySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image proxy secret: %w", err)
	}
	if generated {
		slog.Warn("IMAGE_PROXY_SECRET missing or shorter than 16 bytes, generated a random one; proxied image URLs will not survive restarts")
	}

	cfg := &Cfg{
		DBPath:               raw.DBPath,
		FeedsDir:             raw.FeedsDir,
		Port:                 raw.Port,
		BaseUrl:              raw.BaseUrl,
		WorkerCount:          max(raw.WorkerCount, 1),
		APIAccessKey:         raw.APIAccessKey,
		FetchTimeout:         raw.FetchTimeout,
		MaxFeedBytes:         raw.MaxFeedBytes,
		MaxImageBytes:        raw.MaxImageBytes,
		ImageMaxAge:          raw.ImageMaxAge,
		SSRFAllowCIDRs:       raw.SSRFAllowCIDRs,
		ImageProxySecret:     secret,
		SanitizePolicyFile:   raw.SanitizePolicyFile,
		ExtractMinLength:     raw.ExtractMinLength,
		KagiSessionToken:     raw.KagiSessionToken,
		KagiLanguage:         raw.KagiLanguage,
		SummaryWorkers:       max(raw.SummaryWorkers, 1),
		SummaryQueueSize:     max(raw.SummaryQueueSize, 1),
		SummaryLease:         raw.SummaryLease,
		SummaryTimeout:       raw.SummaryTimeout,
		SummarySweepInterval: raw.SummarySweepInterval,
		SummaryMaxAttempts:   max(raw.SummaryMaxAttempts, 1),
		SummaryCacheTTL:      raw.SummaryCacheTTL,
		SummaryRetention:     raw.SummaryRetention,
		CleanupInterval:      raw.CleanupInterval,
		UserAgent:            raw.UserAgent,
		Timezone:             raw.Timezone,
		Debug:                raw.Debug,
		Version:              GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// ResolveSecret decodes value as base64 (standard or URL alphabet, padded or not)
// and falls back to the raw bytes. Values shorter than 16 bytes are replaced by
// 32 random bytes, reported through generated.
func ResolveSecret(value string) (secret []byte, generated bool, err error) {
	if value != "" {
		for _, enc := range []*base64.Encoding{
			base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
		} {
			if decoded, decodeErr := enc.DecodeString(value); decodeErr == nil && len(decoded) >= minSecretLength {
				return decoded, false, nil
			}
		}
		if len(value) >= minSecretLength {
			return []byte(value), false, nil
		}
	}

	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, false, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, true, nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
