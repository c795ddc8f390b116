// Package fetcher turns a fetch strategy into a PageFetcher that never fails:
// retries are bounded and every error ends up as a tagged PageResult.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// Strategy names accepted by configuration.
const (
	StrategyHTTP     = "http"
	StrategyHeadless = "headless"
)

// PageFetcher wraps one strategy, selected once per run, with the retry policy.
type PageFetcher struct {
	strategy harvest.Fetcher
	retry    harvest.RetryPolicy
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a PageFetcher.
func New(strategy harvest.Fetcher, retry harvest.RetryPolicy, logger *zap.Logger) *PageFetcher {
	if retry == nil {
		retry = harvest.NewExponentialRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageFetcher{
		strategy: strategy,
		retry:    retry,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Fetch retrieves rawURL. It never returns an error; inspect PageResult.Outcome.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) harvest.PageResult {
	result := harvest.PageResult{URL: rawURL}
	if !harvest.IsHTTPURL(rawURL) {
		result.Outcome = harvest.OutcomeUnsupported
		result.Reason = "unsupported scheme"
		return result
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := f.strategy.Fetch(ctx, harvest.FetchRequest{URL: rawURL})
		result.Attempts = attempt + 1
		if err == nil {
			result.FinalURL = resp.URL
			result.StatusCode = resp.StatusCode
			result.Body = resp.Body
			result.UsedHeadless = resp.UsedHeadless
			result.Outcome = harvest.OutcomeOK
			return result
		}
		lastErr = err
		var status harvest.StatusError
		if errors.As(err, &status) {
			result.StatusCode = status.Code
		}
		if !f.retry.ShouldRetry(err, result.Attempts) {
			break
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", result.Attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if serr := f.sleep(ctx, wait); serr != nil {
			lastErr = serr
			break
		}
	}

	result.Outcome = harvest.OutcomeFailed
	if errors.Is(lastErr, harvest.ErrUnsupportedURL) || errors.Is(lastErr, harvest.ErrUnsupportedContent) {
		result.Outcome = harvest.OutcomeUnsupported
	}
	result.Reason = harvest.ErrorLabel(lastErr)
	f.logger.Info("fetch failed",
		zap.String("url", rawURL),
		zap.Int("attempts", result.Attempts),
		zap.String("reason", result.Reason),
		zap.Error(lastErr),
	)
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
