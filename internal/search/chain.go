// Package search turns categories into candidate URLs using a fixed-priority
// chain of search providers: SerpApi, then Bing, then DuckDuckGo HTML.
package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/harvest"
	"github.com/JakeFAU/email-harvester/internal/metrics"
)

// Chain tries providers in priority order until one returns results.
type Chain struct {
	providers []harvest.SearchProvider
	logger    *zap.Logger
}

// NewChain builds a chain; nil providers are skipped.
func NewChain(logger *zap.Logger, providers ...harvest.SearchProvider) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	active := make([]harvest.SearchProvider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			active = append(active, p)
		}
	}
	return &Chain{providers: active, logger: logger}
}

// Providers returns the provider names in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Search returns up to limit normalized, deduplicated URLs for query. Each
// provider is tried at most once. When every provider fails the result is empty.
func (c *Chain) Search(ctx context.Context, query string, limit int) []string {
	for _, p := range c.providers {
		if ctx.Err() != nil {
			return nil
		}
		urls, err := p.Search(ctx, query, limit)
		metrics.ObserveSearch(p.Name(), harvest.ErrorLabel(err))
		if err != nil {
			c.logProviderError(p.Name(), query, err)
			continue
		}
		urls = harvest.NormalizeCandidates(urls, nil)
		if len(urls) == 0 {
			c.logger.Debug("search provider returned no results", zap.String("provider", p.Name()), zap.String("query", query))
			continue
		}
		if limit > 0 && len(urls) > limit {
			urls = urls[:limit]
		}
		c.logger.Info("search results",
			zap.String("provider", p.Name()),
			zap.String("query", query),
			zap.Int("count", len(urls)),
		)
		return urls
	}
	c.logger.Warn("all search providers failed or returned nothing", zap.String("query", query))
	return nil
}

func (c *Chain) logProviderError(provider, query string, err error) {
	fields := []zap.Field{zap.String("provider", provider), zap.String("query", query), zap.Error(err)}
	switch {
	case errors.Is(err, harvest.ErrQuota):
		c.logger.Warn("search provider quota exhausted; falling back", fields...)
	case errors.Is(err, harvest.ErrAuth):
		c.logger.Warn("search provider rejected credentials; falling back", fields...)
	default:
		c.logger.Warn("search provider failed; falling back", fields...)
	}
}

// BuildQueries expands each category into the three query shapes used for discovery.
func BuildQueries(categories []string) []string {
	queries := make([]string, 0, len(categories)*3)
	for _, category := range categories {
		queries = append(queries,
			fmt.Sprintf(`intitle:"contact" "%[1]s" OR intitle:"about" "%[1]s" OR "%[1]s" "contact"`, category),
			fmt.Sprintf(`"%s" site:.com`, category),
			fmt.Sprintf(`"%s" services`, category),
		)
	}
	return queries
}

// Searcher is the subset of Chain used by Collect.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) []string
}

// Collect runs every query through the searcher and returns candidates deduplicated
// across the whole run, in query order. delay (may be nil) paces consecutive queries.
func Collect(ctx context.Context, s Searcher, queries []string, limit int, delay harvest.Delayer) []harvest.CandidateURL {
	seen := make(map[string]struct{})
	var out []harvest.CandidateURL
	for i, query := range queries {
		if i > 0 && delay != nil {
			if err := delay.Wait(ctx); err != nil {
				return out
			}
		}
		urls := harvest.NormalizeCandidates(s.Search(ctx, query, limit), seen)
		for rank, u := range urls {
			out = append(out, harvest.CandidateURL{URL: u, Query: query, Rank: rank})
		}
	}
	return out
}
