// Package enrich gates paid enrichment calls (domain search and verification)
// behind an explicit mode, a confirmation flag and a hard per-run call budget.
package enrich

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// Mode selects how enrichment behaves for a run.
type Mode string

// Enrichment modes.
const (
	ModeOff     Mode = "off"
	ModePreview Mode = "preview"
	ModeExecute Mode = "execute"
)

// Unit is what one verification call covers.
type Unit string

// Verification units.
const (
	UnitEmail  Unit = "email"
	UnitDomain Unit = "domain"
)

// ParseMode validates a configured mode string.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeOff, ModePreview, ModeExecute:
		return m, nil
	case "":
		return ModeOff, nil
	default:
		return "", fmt.Errorf("unknown enrichment mode %q", raw)
	}
}

// Config controls the gate.
type Config struct {
	Mode              Mode
	Confirm           bool
	MaxVerifications  int
	Unit              Unit
	Concurrency       int
	DomainSearch      bool
	DomainSearchLimit int
}

// Plan is the enrichment estimate reported in every mode.
type Plan struct {
	Mode              Mode `json:"mode"`
	Eligible          int  `json:"eligible"`
	VerifyCalls       int  `json:"verify_calls"`
	DomainSearchCalls int  `json:"domain_search_calls"`
}

// DomainTarget is one crawled domain and the page that led to it.
type DomainTarget struct {
	Domain string
	Source string
}

// Gate decides which paid calls happen and issues them.
type Gate struct {
	cfg      Config
	provider harvest.Enricher
	clock    harvest.Clock
	logger   *zap.Logger
}

// NewGate validates cfg. Execute mode needs Confirm and a provider.
func NewGate(cfg Config, provider harvest.Enricher, clock harvest.Clock, logger *zap.Logger) (*Gate, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeOff
	}
	if cfg.Unit == "" {
		cfg.Unit = UnitEmail
	}
	if cfg.Unit != UnitEmail && cfg.Unit != UnitDomain {
		return nil, fmt.Errorf("unknown verification unit %q", cfg.Unit)
	}
	if cfg.MaxVerifications < 0 {
		return nil, fmt.Errorf("max verifications must be >= 0, got %d", cfg.MaxVerifications)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DomainSearchLimit <= 0 {
		cfg.DomainSearchLimit = 10
	}
	if cfg.Mode == ModeExecute {
		if !cfg.Confirm {
			return nil, harvest.ErrConfirmationRequired
		}
		if provider == nil {
			return nil, harvest.ErrEnrichmentUnavailable
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cfg:      cfg,
		provider: provider,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Mode returns the configured mode.
func (g *Gate) Mode() Mode { return g.cfg.Mode }

// RunBudget returns a fresh budget for one run. Domain searches and
// verifications draw from it, so their sum never exceeds MaxVerifications.
func (g *Gate) RunBudget() *Budget { return NewBudget(g.cfg.MaxVerifications) }

// Plan estimates the calls a run would make. It never calls the provider.
// Domain searches are charged first, matching the order Run issues them.
func (g *Gate) Plan(records []harvest.EmailRecord, domains int) Plan {
	plan := Plan{Mode: g.cfg.Mode}
	if g.cfg.Mode == ModeOff {
		return plan
	}
	if g.cfg.DomainSearch {
		plan.DomainSearchCalls = min(domains, g.cfg.MaxVerifications)
	}
	plan.Eligible = len(g.targets(records))
	plan.VerifyCalls = min(plan.Eligible, g.cfg.MaxVerifications-plan.DomainSearchCalls)
	return plan
}

// targets returns the emails to verify in sorted order.
func (g *Gate) targets(records []harvest.EmailRecord) []string {
	emails := make([]string, 0, len(records))
	for _, rec := range records {
		emails = append(emails, rec.Email)
	}
	slices.Sort(emails)
	emails = slices.Compact(emails)
	if g.cfg.Unit == UnitEmail {
		return emails
	}
	seen := make(map[string]struct{}, len(emails))
	out := emails[:0]
	for _, email := range emails {
		domain := harvest.EmailRecord{Email: email}.EmailDomain()
		if _, ok := seen[domain]; ok {
			continue
		}
		seen[domain] = struct{}{}
		out = append(out, email)
	}
	return out
}

// UniqueDomains collapses candidate URLs to one target per source domain, keeping the first URL.
func UniqueDomains(urls []string) []DomainTarget {
	seen := make(map[string]struct{}, len(urls))
	var out []DomainTarget
	for _, u := range urls {
		domain := harvest.SourceDomain(u)
		if domain == "" {
			continue
		}
		if _, ok := seen[domain]; ok {
			continue
		}
		seen[domain] = struct{}{}
		out = append(out, DomainTarget{Domain: domain, Source: u})
	}
	return out
}

// DiscoverDomains runs one domain search per target in execute mode, charging
// each to budget, and merges the addresses into sink. It returns the number of
// extractions merged.
func (g *Gate) DiscoverDomains(ctx context.Context, budget *Budget, targets []DomainTarget, sink harvest.RecordSink) int {
	if g.cfg.Mode != ModeExecute || !g.cfg.DomainSearch || g.provider == nil {
		return 0
	}
	var (
		mu     sync.Mutex
		merged int
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	searched := 0
	for _, target := range targets {
		if egCtx.Err() != nil {
			break
		}
		if !budget.TryAcquire() {
			g.logger.Info("budget exhausted before domain search", zap.Int("targets", len(targets)))
			break
		}
		searched++
		eg.Go(func() error {
			found, err := g.provider.DomainSearch(egCtx, target.Domain, g.cfg.DomainSearchLimit)
			if err != nil {
				g.logger.Warn("domain search failed", zap.String("domain", target.Domain), zap.Error(err))
				return nil
			}
			for _, item := range found {
				email := strings.ToLower(strings.TrimSpace(item.Email))
				if email == "" {
					continue
				}
				note := string(harvest.MethodDomainSearch)
				if item.Confidence != nil {
					note += ":" + strconv.Itoa(*item.Confidence)
				}
				sink.Merge(harvest.Extraction{
					Email:  email,
					Source: target.Source,
					Method: harvest.MethodDomainSearch,
					Note:   note,
					SeenAt: g.now(),
				})
				mu.Lock()
				merged++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	g.logger.Info("domain search finished",
		zap.Int("domains", len(targets)),
		zap.Int("searched", searched),
		zap.Int("emails", merged),
	)
	return merged
}

// Verify issues verification calls in execute mode until every target is done or
// budget is spent. Failed calls consume budget and leave no verdict.
func (g *Gate) Verify(ctx context.Context, budget *Budget, records []harvest.EmailRecord) map[string]harvest.Verification {
	results := make(map[string]harvest.Verification)
	if g.cfg.Mode != ModeExecute || g.provider == nil {
		return results
	}
	targets := g.targets(records)

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for _, email := range targets {
		if egCtx.Err() != nil {
			break
		}
		if !budget.TryAcquire() {
			g.logger.Info("verification budget exhausted", zap.Int("targets", len(targets)))
			break
		}
		eg.Go(func() error {
			v, err := g.provider.Verify(egCtx, email)
			if err != nil {
				g.logger.Warn("verification failed", zap.String("email", email), zap.Error(err))
				return nil
			}
			mu.Lock()
			results[email] = v
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	g.logger.Info("verification finished",
		zap.Int64("budget_used", budget.Used()),
		zap.Int("verified", len(results)),
		zap.Int64("budget_remaining", budget.Remaining()),
	)
	return results
}

// Apply attaches verdicts to matching records in place.
func Apply(records []harvest.EmailRecord, results map[string]harvest.Verification) {
	for i := range records {
		if v, ok := results[records[i].Email]; ok {
			records[i].Verification = &v
		}
	}
}

func (g *Gate) now() time.Time {
	if g.clock == nil {
		return time.Now().UTC()
	}
	return g.clock.Now()
}
