package cfg

import "time"

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	FeedsDir     string
	Port         string
	BaseUrl      string
	WorkerCount  int
	APIAccessKey string

	// Fetching
	FetchTimeout   time.Duration
	MaxFeedBytes   int64
	MaxImageBytes  int64
	ImageMaxAge    time.Duration
	SSRFAllowCIDRs []string

	// Content processing
	ImageProxySecret   []byte
	SanitizePolicyFile string
	ExtractMinLength   int

	// Summarization
	KagiSessionToken     string
	KagiLanguage         string
	SummaryWorkers       int
	SummaryQueueSize     int
	SummaryLease         time.Duration
	SummaryTimeout       time.Duration
	SummarySweepInterval time.Duration
	SummaryMaxAttempts   int
	SummaryCacheTTL      time.Duration
	SummaryRetention     time.Duration
	CleanupInterval      time.Duration

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
