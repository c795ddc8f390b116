package app

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/export"
	"github.com/JakeFAU/email-harvester/internal/harvest"
	"github.com/JakeFAU/email-harvester/internal/storage/postgres"
)

// Exporter ships a finished run somewhere beyond the local CSV.
type Exporter interface {
	Name() string
	Export(ctx context.Context, res Result) error
}

// BlobExporter uploads the run's CSV to a blob store.
type BlobExporter struct {
	Store  harvest.BlobStore
	Prefix string
}

// Name implements Exporter.
func (BlobExporter) Name() string { return "blob" }

// Export implements Exporter.
func (e BlobExporter) Export(ctx context.Context, res Result) error {
	data, err := export.Bytes(res.Records)
	if err != nil {
		return err
	}
	_, err = e.Store.PutObject(ctx, export.ObjectPath(e.Prefix, res.RunID, res.StartedAt), export.ContentType, bytes.NewReader(data))
	return err
}

// RecordSaver persists a run and its records.
type RecordSaver interface {
	SaveRun(ctx context.Context, run postgres.Run, records []harvest.EmailRecord) error
}

// DatabaseExporter upserts records into Postgres.
type DatabaseExporter struct {
	Store RecordSaver
}

// Name implements Exporter.
func (DatabaseExporter) Name() string { return "postgres" }

// Export implements Exporter.
func (e DatabaseExporter) Export(ctx context.Context, res Result) error {
	return e.Store.SaveRun(ctx, postgres.Run{
		ID:         res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Candidates: res.Candidates,
		Progress:   res.Progress,
		Plan:       res.Plan,
	}, res.Records)
}

// RunSummary is the notification published when a run finishes.
type RunSummary struct {
	Result
	Tiers map[harvest.Tier]int `json:"tiers"`
	Total int                  `json:"records"`
}

// SummaryExporter publishes a RunSummary.
type SummaryExporter struct {
	Publisher harvest.Publisher
	Topic     string
}

// Name implements Exporter.
func (SummaryExporter) Name() string { return "pubsub" }

// Export implements Exporter.
func (e SummaryExporter) Export(ctx context.Context, res Result) error {
	_, err := e.Publisher.Publish(ctx, e.Topic, RunSummary{Result: res, Tiers: res.Summary(), Total: len(res.Records)})
	return err
}

// Export runs every exporter. Failures are logged and combined; one failing
// exporter does not stop the rest.
func Export(ctx context.Context, logger *zap.Logger, res Result, exporters ...Exporter) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var errs error
	for _, e := range exporters {
		if e == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := e.Export(ctx, res); err != nil {
			logger.Error("export failed", zap.String("exporter", e.Name()), zap.String("run_id", res.RunID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		logger.Info("export complete", zap.String("exporter", e.Name()), zap.String("run_id", res.RunID))
	}
	return errs
}
