package fetcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// Detector decides whether an HTTP response needs a headless render.
type Detector interface {
	Reason(resp harvest.FetchResponse) (string, bool)
}

// Promoting is a harvest.Fetcher that probes with one strategy and promotes to another.
type Promoting struct {
	probe    harvest.Fetcher
	headless harvest.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting builds the auto strategy. A nil headless fetcher or detector disables promotion.
func NewPromoting(probe, headless harvest.Fetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{probe: probe, headless: headless, detector: detector, logger: logger}
}

// Fetch implements harvest.Fetcher. A failed promotion falls back to the probe response.
func (p *Promoting) Fetch(ctx context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	resp, err := p.probe.Fetch(ctx, req)
	if err != nil {
		return resp, err
	}
	if p.headless == nil || p.detector == nil {
		return resp, nil
	}
	reason, promote := p.detector.Reason(resp)
	if !promote {
		return resp, nil
	}

	headlessResp, err := p.headless.Fetch(ctx, req)
	if err != nil {
		p.logger.Warn("headless promotion failed", zap.String("url", req.URL), zap.String("reason", reason), zap.Error(err))
		return resp, nil
	}
	headlessResp.UsedHeadless = true
	p.logger.Debug("headless promotion applied", zap.String("url", req.URL), zap.String("reason", reason))
	return headlessResp, nil
}
