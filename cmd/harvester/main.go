package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/api"
	"github.com/JakeFAU/email-harvester/internal/app"
	"github.com/JakeFAU/email-harvester/internal/config"
	"github.com/JakeFAU/email-harvester/internal/logging"
	"github.com/JakeFAU/email-harvester/internal/metrics"
	"github.com/JakeFAU/email-harvester/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	categories := flag.String("categories", "", "Comma-separated business categories to search for")
	seedsFile := flag.String("seeds-file", "", "File with one seed URL per line; bypasses search")
	output := flag.String("output", "", "CSV output path")
	serve := flag.Bool("serve", false, "Run the operator API and wait for submitted runs")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg, *categories, *seedsFile, *output)

	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exportOpts, err := telemetry.ExportOptions(ctx, cfg.Tracing.OTLPEndpoint)
	if err != nil {
		logger.Warn("trace export disabled", zap.Error(err))
	}
	tp, err := telemetry.InitTracerProvider(ctx, "email-harvester", exportOpts...)
	if err != nil {
		logger.Warn("tracing init failed", zap.Error(err))
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	if err := run(ctx, cfg, *serve, logger); err != nil {
		logger.Error("harvest failed", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, categories, seedsFile, output string) {
	if categories != "" {
		cfg.Run.Categories = splitList(categories)
	}
	if seedsFile != "" {
		cfg.Run.SeedsFile = seedsFile
	}
	if output != "" {
		cfg.Run.Output = output
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(ctx context.Context, cfg config.Config, serve bool, logger *zap.Logger) error {
	deps, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	runs := api.NewRuns(ctx, deps.RunAndExport, deps.Harvester.Progress, deps.Clock)

	var srv *http.Server
	if serve || cfg.Server.Enabled {
		apiServer := api.NewServer(runs, api.Config{APIKey: cfg.Server.APIKey}, logger.Named("api"))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
		}()
	}

	if serve {
		<-ctx.Done()
		logger.Info("shutdown initiated")
		runs.Cancel()
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return runs.Wait(waitCtx)
	}

	in, err := input(cfg)
	if err != nil {
		return err
	}
	if err := runs.Start(in); err != nil {
		return err
	}
	if err := runs.Wait(context.Background()); err != nil {
		return err
	}
	status := runs.Status()
	if status.State != api.RunSucceeded {
		return fmt.Errorf("run %s: %s", status.State, status.Error)
	}
	return nil
}

// input reads seeds when configured; otherwise categories drive search.
func input(cfg config.Config) (app.Input, error) {
	if cfg.Run.SeedsFile != "" {
		seeds, err := config.ReadLines(cfg.Run.SeedsFile)
		if err != nil {
			return app.Input{}, fmt.Errorf("seeds file: %w", err)
		}
		if len(seeds) == 0 {
			return app.Input{}, fmt.Errorf("seeds file %s has no URLs", cfg.Run.SeedsFile)
		}
		return app.Input{Seeds: seeds}, nil
	}
	if len(cfg.Run.Categories) == 0 {
		return app.Input{}, errors.New("no categories or seeds file given")
	}
	return app.Input{Categories: cfg.Run.Categories}, nil
}
