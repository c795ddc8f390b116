// Package politeness implements robots.txt enforcement and per-worker pacing.
package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/email-harvester/internal/harvest"
	"github.com/JakeFAU/email-harvester/internal/metrics"
)

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	Respect   bool
	FailOpen  bool
	UserAgent string
	Timeout   time.Duration
}

// RobotsEnforcer enforces robots.txt directives per host. Each host is fetched
// at most once between calls to Reset, even when many workers ask at the same time.
type RobotsEnforcer struct {
	client    *http.Client
	cache     sync.Map
	group     singleflight.Group
	failOpen  bool
	userAgent string
	logger    *zap.Logger
}

// hostRules is the cached decision source for one host; nil data means the
// fetch failed and the fail-open/closed policy applies.
type hostRules struct {
	data *robotstxt.RobotsData
}

// NewRobotsEnforcer builds a RobotsPolicy respecting the config toggle.
func NewRobotsEnforcer(cfg RobotsConfig, client *http.Client, logger *zap.Logger) harvest.RobotsPolicy {
	if !cfg.Respect {
		return allowAllPolicy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RobotsEnforcer{
		client:    client,
		failOpen:  cfg.FailOpen,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Allowed implements harvest.RobotsPolicy.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) bool {
	if r == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	rules := r.rules(ctx, parsed)
	if rules.data == nil {
		return r.failOpen
	}
	group := rules.data.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return group.Test(path)
}

// Reset drops the cached robots.txt rules so the next run fetches them again.
func (r *RobotsEnforcer) Reset() { r.cache.Clear() }

func (r *RobotsEnforcer) rules(ctx context.Context, parsed *url.URL) *hostRules {
	hostKey := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if cached, ok := r.cache.Load(hostKey); ok {
		if rules, ok := cached.(*hostRules); ok {
			return rules
		}
	}
	v, _, _ := r.group.Do(hostKey, func() (any, error) {
		if cached, ok := r.cache.Load(hostKey); ok {
			return cached, nil
		}
		data, err := r.fetch(ctx, parsed)
		rules := &hostRules{data: data}
		if err != nil {
			if r.failOpen {
				r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
			} else {
				r.logger.Warn("robots fetch failed; denying access", zap.String("host", parsed.Host), zap.Error(err))
			}
			metrics.ObserveRobotsFetch("error")
		} else {
			metrics.ObserveRobotsFetch("ok")
		}
		r.cache.Store(hostKey, rules)
		return rules, nil
	})
	rules, ok := v.(*hostRules)
	if !ok {
		return &hostRules{}
	}
	return rules
}

func (r *RobotsEnforcer) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

type allowAllPolicy struct{}

func (allowAllPolicy) Allowed(context.Context, string) bool { return true }
