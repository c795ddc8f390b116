package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/app"
	"github.com/JakeFAU/email-harvester/internal/clock/system"
	"github.com/JakeFAU/email-harvester/internal/config"
	"github.com/JakeFAU/email-harvester/internal/dns"
	"github.com/JakeFAU/email-harvester/internal/enrich"
	"github.com/JakeFAU/email-harvester/internal/export"
	"github.com/JakeFAU/email-harvester/internal/extract"
	"github.com/JakeFAU/email-harvester/internal/fetcher"
	collyfetcher "github.com/JakeFAU/email-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/email-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/email-harvester/internal/harvest"
	"github.com/JakeFAU/email-harvester/internal/headless/detector"
	"github.com/JakeFAU/email-harvester/internal/id/uuid"
	"github.com/JakeFAU/email-harvester/internal/politeness"
	pubsubpublisher "github.com/JakeFAU/email-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/email-harvester/internal/search"
	"github.com/JakeFAU/email-harvester/internal/storage/gcs"
	"github.com/JakeFAU/email-harvester/internal/storage/local"
	"github.com/JakeFAU/email-harvester/internal/storage/postgres"
)

// deps is everything a run needs, plus what must be released afterwards.
type deps struct {
	Harvester *app.Harvester
	Clock     harvest.Clock
	exporters []app.Exporter
	output    string
	logger    *zap.Logger
	closers   []func() error
}

// RunAndExport runs one harvest, writes the CSV and ships it to the optional sinks.
// A partial result from an interrupted crawl is still written.
func (d *deps) RunAndExport(ctx context.Context, in app.Input) (app.Result, error) {
	res, runErr := d.Harvester.Run(ctx, in)
	if err := export.WriteFile(d.output, res.Records); err != nil {
		return res, multierr.Append(runErr, fmt.Errorf("write csv: %w", err))
	}
	d.logger.Info("csv written", zap.String("path", d.output), zap.Int("records", len(res.Records)))
	if runErr != nil {
		return res, runErr
	}
	if err := app.Export(ctx, d.logger.Named("export"), res, d.exporters...); err != nil {
		d.logger.Warn("some exports failed", zap.Error(err))
	}
	return res, nil
}

// Close releases clients in reverse order of creation.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("close failed", zap.Error(err))
		}
	}
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*deps, error) {
	d := &deps{Clock: system.New(), output: cfg.Run.Output, logger: logger}
	ids := uuid.NewUUIDGenerator()

	strategy, err := buildStrategy(cfg, logger, d)
	if err != nil {
		d.Close()
		return nil, err
	}

	gate, err := buildGate(cfg, d.Clock, logger)
	if err != nil {
		d.Close()
		return nil, err
	}

	robots := politeness.NewRobotsEnforcer(politeness.RobotsConfig{
		Respect:   cfg.Crawler.RespectRobots,
		FailOpen:  cfg.Crawler.RobotsFailOpen,
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   config.Seconds(cfg.HTTP.TimeoutSeconds),
	}, nil, logger.Named("robots"))

	minDelay := config.Duration(cfg.Crawler.MinDelayMs)
	maxDelay := config.Duration(cfg.Crawler.MaxDelayMs)
	seed := uint64(time.Now().UnixNano())
	crawl := app.Crawl{
		Workers:     cfg.Crawler.Workers,
		QueueDepth:  cfg.Crawler.QueueDepth,
		VisitedSize: cfg.Crawler.VisitedSize,
		Robots:      robots,
		NewDelay: func(worker int) harvest.Delayer {
			return politeness.NewJitter(minDelay, maxDelay, seed+uint64(worker))
		},
		Limiter: politeness.NewHostLimiter(cfg.Crawler.PerHostQPS, cfg.Crawler.PerHostBurst),
		Fetcher: fetcher.New(strategy, harvest.NewRetryPolicy(
			cfg.HTTP.MaxAttempts,
			config.Duration(cfg.HTTP.BackoffInitialMs),
			config.Duration(cfg.HTTP.BackoffMaxMs),
		), logger.Named("fetcher")),
		Extractor: extract.NewEmailExtractor(nil),
		Links:     extract.NewLinkDiscoverer(cfg.Crawler.MaxContactPages),
	}

	discovery := app.Discovery{
		Searcher:        buildSearch(cfg, logger),
		ResultsPerQuery: cfg.Search.MaxResultsPerQuery,
		QueryDelay:      politeness.NewJitter(config.Duration(cfg.Search.QueryDelayMs), config.Duration(cfg.Search.QueryDelayMs), seed),
	}

	mx := dns.NewValidator(dns.Config{
		Timeout:    config.Seconds(cfg.DNS.TimeoutSeconds),
		ImplicitMX: cfg.DNS.ImplicitMX,
	}, nil, logger.Named("dns"))

	d.Harvester = app.New(discovery, crawl, mx, cfg.DNS.Concurrency, gate, ids, d.Clock, logger.Named("harvester"))

	if err := buildExporters(ctx, cfg, logger, d); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func buildStrategy(cfg config.Config, logger *zap.Logger, d *deps) (harvest.Fetcher, error) {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     config.Seconds(cfg.HTTP.TimeoutSeconds),
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})
	if cfg.Crawler.FetchStrategy == config.StrategyHTTP {
		return probe, nil
	}

	headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: config.Seconds(cfg.Headless.NavTimeoutSec),
		Settle:            config.Duration(cfg.Headless.SettleMs),
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher: %w", err)
	}
	d.closers = append(d.closers, func() error { headless.Close(); return nil })

	if cfg.Crawler.FetchStrategy == config.StrategyHeadless {
		return headless, nil
	}
	return fetcher.NewPromoting(probe, headless, detector.NewHeuristic(cfg.Headless.PromotionThreshold), logger.Named("promote")), nil
}

func buildSearch(cfg config.Config, logger *zap.Logger) *search.Chain {
	client := search.NewHTTPClient(config.Seconds(cfg.Search.TimeoutSeconds))
	var providers []harvest.SearchProvider
	if cfg.Search.SerpAPIKey != "" {
		providers = append(providers, search.NewSerpAPI(client, cfg.Search.SerpAPIEndpoint, cfg.Search.SerpAPIKey))
	}
	if cfg.Search.BingAPIKey != "" {
		providers = append(providers, search.NewBing(client, cfg.Search.BingEndpoint, cfg.Search.BingAPIKey, cfg.Crawler.UserAgent))
	}
	if cfg.Search.DuckDuckGo {
		delay := config.Duration(cfg.Search.QueryDelayMs)
		providers = append(providers, search.NewDuckDuckGo(client, cfg.Search.DuckDuckGoURLs, cfg.Crawler.UserAgent,
			politeness.NewJitter(delay/2, delay, uint64(time.Now().UnixNano()))))
	}
	chain := search.NewChain(logger.Named("search"), providers...)
	logger.Info("search providers", zap.Strings("order", chain.Providers()))
	return chain
}

func buildGate(cfg config.Config, clock harvest.Clock, logger *zap.Logger) (*enrich.Gate, error) {
	mode, err := enrich.ParseMode(cfg.Enrichment.Mode)
	if err != nil {
		return nil, err
	}
	var provider harvest.Enricher
	if cfg.Enrichment.HunterAPIKey != "" {
		provider = enrich.NewHunterClient(&http.Client{Timeout: config.Seconds(cfg.HTTP.TimeoutSeconds)}, enrich.HunterConfig{
			BaseURL:      cfg.Enrichment.HunterBaseURL,
			APIKey:       cfg.Enrichment.HunterAPIKey,
			PollInterval: config.Duration(cfg.Enrichment.PollIntervalMs),
			PollTimeout:  config.Seconds(cfg.Enrichment.PollTimeoutSec),
		}, logger.Named("hunter"))
	}
	return enrich.NewGate(enrich.Config{
		Mode:              mode,
		Confirm:           cfg.Enrichment.Confirm,
		MaxVerifications:  cfg.Enrichment.MaxVerifications,
		Unit:              enrich.Unit(cfg.Enrichment.Unit),
		Concurrency:       cfg.Enrichment.Concurrency,
		DomainSearch:      cfg.Enrichment.DomainSearch,
		DomainSearchLimit: cfg.Enrichment.DomainSearchLimit,
	}, provider, clock, logger.Named("enrich"))
}

// buildExporters connects the optional sinks. A sink that cannot be reached
// at startup is a configuration error.
func buildExporters(ctx context.Context, cfg config.Config, logger *zap.Logger, d *deps) error {
	switch cfg.Storage.Backend {
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs: %w", err)
		}
		d.closers = append(d.closers, store.Close)
		d.exporters = append(d.exporters, app.BlobExporter{Store: store, Prefix: cfg.Storage.Prefix})
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local storage: %w", err)
		}
		d.exporters = append(d.exporters, app.BlobExporter{Store: store, Prefix: cfg.Storage.Prefix})
	}

	if cfg.DB.DSN != "" {
		store, err := postgres.NewRecordStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			RecordsTable:    cfg.DB.RecordsTable,
			RunsTable:       cfg.DB.RunsTable,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Minute,
		})
		if err != nil {
			return err
		}
		d.closers = append(d.closers, func() error { store.Close(); return nil })
		if cfg.DB.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		d.exporters = append(d.exporters, app.DatabaseExporter{Store: store})
	}

	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, pub.Close)
		d.exporters = append(d.exporters, app.SummaryExporter{Publisher: pub, Topic: cfg.PubSub.TopicName})
	}

	names := make([]string, len(d.exporters))
	for i, e := range d.exporters {
		names[i] = e.Name()
	}
	logger.Info("exporters configured", zap.Strings("exporters", names))
	return nil
}
