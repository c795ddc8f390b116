// Package config loads and validates harvester configuration via Viper.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// Fetch strategies accepted by crawler.fetch_strategy.
const (
	StrategyHTTP     = "http"
	StrategyHeadless = "headless"
	StrategyAuto     = "auto"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	Search     SearchConfig     `mapstructure:"search"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	DNS        DNSConfig        `mapstructure:"dns"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// RunConfig selects what a run harvests and where the CSV goes.
type RunConfig struct {
	Categories []string `mapstructure:"categories"`
	SeedsFile  string   `mapstructure:"seeds_file"`
	Output     string   `mapstructure:"output"`
}

// SearchConfig configures the provider chain.
type SearchConfig struct {
	SerpAPIKey         string   `mapstructure:"serpapi_key"`
	SerpAPIEndpoint    string   `mapstructure:"serpapi_endpoint"`
	BingAPIKey         string   `mapstructure:"bing_api_key"`
	BingEndpoint       string   `mapstructure:"bing_endpoint"`
	DuckDuckGo         bool     `mapstructure:"duckduckgo"`
	DuckDuckGoURLs     []string `mapstructure:"duckduckgo_endpoints"`
	MaxResultsPerQuery int      `mapstructure:"max_results_per_query"`
	QueryDelayMs       int      `mapstructure:"query_delay_ms"`
	TimeoutSeconds     int      `mapstructure:"timeout_seconds"`
}

// CrawlerConfig governs the scheduler and politeness.
type CrawlerConfig struct {
	Workers         int     `mapstructure:"workers"`
	QueueDepth      int     `mapstructure:"queue_depth"`
	UserAgent       string  `mapstructure:"user_agent"`
	MinDelayMs      int     `mapstructure:"min_delay_ms"`
	MaxDelayMs      int     `mapstructure:"max_delay_ms"`
	RespectRobots   bool    `mapstructure:"respect_robots"`
	RobotsFailOpen  bool    `mapstructure:"robots_fail_open"`
	PerHostQPS      float64 `mapstructure:"per_host_qps"`
	PerHostBurst    int     `mapstructure:"per_host_burst"`
	MaxContactPages int     `mapstructure:"max_contact_pages"`
	VisitedSize     int     `mapstructure:"visited_size"`
	FetchStrategy   string  `mapstructure:"fetch_strategy"`
}

// HTTPConfig configures fetch timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxBodyBytes     int `mapstructure:"max_body_bytes"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the chromedp strategy and auto promotion.
type HeadlessConfig struct {
	MaxParallel        int `mapstructure:"max_parallel"`
	NavTimeoutSec      int `mapstructure:"nav_timeout_seconds"`
	SettleMs           int `mapstructure:"settle_ms"`
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// DNSConfig controls MX validation.
type DNSConfig struct {
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
	ImplicitMX     bool `mapstructure:"implicit_mx"`
	Concurrency    int  `mapstructure:"concurrency"`
}

// EnrichmentConfig controls the paid enrichment gate.
type EnrichmentConfig struct {
	Mode              string `mapstructure:"mode"`
	Confirm           bool   `mapstructure:"confirm"`
	MaxVerifications  int    `mapstructure:"max_verifications"`
	Unit              string `mapstructure:"unit"`
	Concurrency       int    `mapstructure:"concurrency"`
	DomainSearch      bool   `mapstructure:"domain_search"`
	DomainSearchLimit int    `mapstructure:"domain_search_limit"`
	HunterAPIKey      string `mapstructure:"hunter_api_key"`
	HunterBaseURL     string `mapstructure:"hunter_base_url"`
	PollIntervalMs    int    `mapstructure:"poll_interval_ms"`
	PollTimeoutSec    int    `mapstructure:"poll_timeout_seconds"`
}

// StorageConfig selects where the CSV is uploaded after a run.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls optional Postgres persistence.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	RecordsTable    string `mapstructure:"records_table"`
	RunsTable       string `mapstructure:"runs_table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
	EnsureSchema    bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional operator HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// TracingConfig points span export at an OTLP/HTTP collector; empty disables export.
type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindProviderKeys(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindProviderKeys lets the conventional provider variables fill the keys
// when the HARVESTER_-prefixed ones are unset.
func bindProviderKeys(v *viper.Viper) {
	_ = v.BindEnv("search.serpapi_key", "HARVESTER_SEARCH_SERPAPI_KEY", "SERPAPI_KEY")
	_ = v.BindEnv("search.bing_api_key", "HARVESTER_SEARCH_BING_API_KEY", "BING_API_KEY")
	_ = v.BindEnv("enrichment.hunter_api_key", "HARVESTER_ENRICHMENT_HUNTER_API_KEY", "HUNTER_API_KEY")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.output", "emails.csv")
	v.SetDefault("search.duckduckgo", true)
	v.SetDefault("search.max_results_per_query", 20)
	v.SetDefault("search.query_delay_ms", 1500)
	v.SetDefault("search.timeout_seconds", 15)
	v.SetDefault("crawler.workers", 6)
	v.SetDefault("crawler.queue_depth", 256)
	v.SetDefault("crawler.user_agent", "email-harvester/0.1 (+contact-discovery)")
	v.SetDefault("crawler.min_delay_ms", 1000)
	v.SetDefault("crawler.max_delay_ms", 3000)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.robots_fail_open", true)
	v.SetDefault("crawler.per_host_qps", 0)
	v.SetDefault("crawler.per_host_burst", 1)
	v.SetDefault("crawler.max_contact_pages", 5)
	v.SetDefault("crawler.visited_size", 50_000)
	v.SetDefault("crawler.fetch_strategy", StrategyHTTP)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 5<<20)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 4000)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("dns.timeout_seconds", 8)
	v.SetDefault("dns.implicit_mx", true)
	v.SetDefault("dns.concurrency", 8)
	v.SetDefault("enrichment.mode", "off")
	v.SetDefault("enrichment.confirm", false)
	v.SetDefault("enrichment.max_verifications", 25)
	v.SetDefault("enrichment.unit", "email")
	v.SetDefault("enrichment.concurrency", 4)
	v.SetDefault("enrichment.domain_search", false)
	v.SetDefault("enrichment.domain_search_limit", 10)
	v.SetDefault("enrichment.poll_interval_ms", 1000)
	v.SetDefault("enrichment.poll_timeout_seconds", 20)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "exports")
	v.SetDefault("db.records_table", "harvested_emails")
	v.SetDefault("db.runs_table", "harvest_runs")
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.otlp_endpoint", "")
}

// Validate enforces required values and reasonable limits. Every problem is
// reported, not only the first.
func (c Config) Validate() error {
	var errs error
	check := func(ok bool, msg string) {
		if !ok {
			errs = multierr.Append(errs, errors.New(msg))
		}
	}

	check(c.Search.MaxResultsPerQuery > 0, "search.max_results_per_query must be > 0")
	check(c.Search.QueryDelayMs >= 0, "search.query_delay_ms must be >= 0")
	check(c.Crawler.Workers > 0, "crawler.workers must be > 0")
	check(c.Crawler.QueueDepth > 0, "crawler.queue_depth must be > 0")
	check(c.Crawler.MinDelayMs >= 0, "crawler.min_delay_ms must be >= 0")
	check(c.Crawler.MaxDelayMs >= c.Crawler.MinDelayMs, "crawler.max_delay_ms must be >= crawler.min_delay_ms")
	check(c.Crawler.PerHostQPS >= 0, "crawler.per_host_qps must be >= 0")
	check(c.Crawler.MaxContactPages >= 0, "crawler.max_contact_pages must be >= 0")
	switch c.Crawler.FetchStrategy {
	case StrategyHTTP, StrategyHeadless, StrategyAuto:
	default:
		check(false, fmt.Sprintf("crawler.fetch_strategy %q must be one of http, headless, auto", c.Crawler.FetchStrategy))
	}
	check(c.HTTP.TimeoutSeconds > 0, "http.timeout_seconds must be > 0")
	check(c.HTTP.MaxAttempts > 0, "http.max_attempts must be > 0")
	if c.Crawler.FetchStrategy != StrategyHTTP {
		check(c.Headless.MaxParallel > 0, "headless.max_parallel must be > 0 when headless fetching is used")
	}
	check(c.DNS.TimeoutSeconds > 0, "dns.timeout_seconds must be > 0")

	switch c.Enrichment.Mode {
	case "off", "preview":
	case "execute":
		if !c.Enrichment.Confirm {
			errs = multierr.Append(errs, fmt.Errorf("enrichment.confirm: %w", harvest.ErrConfirmationRequired))
		}
		if c.Enrichment.HunterAPIKey == "" {
			errs = multierr.Append(errs, fmt.Errorf("enrichment.hunter_api_key: %w", harvest.ErrEnrichmentUnavailable))
		}
	default:
		check(false, fmt.Sprintf("enrichment.mode %q must be one of off, preview, execute", c.Enrichment.Mode))
	}
	check(c.Enrichment.Unit == "email" || c.Enrichment.Unit == "domain", "enrichment.unit must be email or domain")
	check(c.Enrichment.MaxVerifications >= 0, "enrichment.max_verifications must be >= 0")

	switch c.Storage.Backend {
	case "", "none":
	case "gcs":
		check(c.Storage.GCSBucket != "", "storage.gcs_bucket is required for the gcs backend")
	case "local":
		check(c.Storage.LocalDir != "", "storage.local_dir is required for the local backend")
	default:
		check(false, fmt.Sprintf("storage.backend %q must be one of none, gcs, local", c.Storage.Backend))
	}
	if c.PubSub.TopicName != "" {
		check(c.PubSub.ProjectID != "", "pubsub.project_id is required when pubsub.topic_name is set")
	}
	if c.Server.Enabled {
		check(c.Server.Port > 0, "server.port must be > 0")
	}
	return errs
}

// Duration converts a millisecond setting.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a second setting.
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// ReadLines returns the non-blank, non-comment lines of path, trimmed.
func ReadLines(path string) ([]string, error) {
	// #nosec G304 -- the seeds file path is operator supplied.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
