// Package dns validates that an email domain can receive mail.
package dns

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/email-harvester/internal/metrics"
)

// DefaultTimeout bounds a single domain lookup.
const DefaultTimeout = 8 * time.Second

// Resolver is the subset of *net.Resolver used for MX checks.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Config controls MX validation.
type Config struct {
	Timeout time.Duration
	// ImplicitMX treats a domain with no MX records but a resolvable A/AAAA
	// record as deliverable (RFC 5321 section 5.1).
	ImplicitMX bool
}

// Validator answers IsMXValid with one lookup per domain per run.
type Validator struct {
	resolver Resolver
	cfg      Config
	logger   *zap.Logger
	cache    sync.Map
	group    singleflight.Group
}

// NewValidator builds a Validator; a nil resolver uses net.DefaultResolver.
func NewValidator(cfg Config, resolver Resolver, logger *zap.Logger) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{resolver: resolver, cfg: cfg, logger: logger}
}

// IsMXValid implements harvest.MXValidator. Lookup failures, timeouts and
// null MX records ("." preference 0) all report false.
func (v *Validator) IsMXValid(ctx context.Context, domain string) bool {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return false
	}
	if cached, ok := v.cache.Load(domain); ok {
		valid, _ := cached.(bool)
		return valid
	}
	result, _, _ := v.group.Do(domain, func() (any, error) {
		if cached, ok := v.cache.Load(domain); ok {
			return cached, nil
		}
		valid := v.lookup(ctx, domain)
		// Canceled lookups stay uncached so a retry in the same run resolves again.
		if ctx.Err() == nil {
			v.cache.Store(domain, valid)
		}
		metrics.ObserveMXLookup(valid)
		return valid, nil
	})
	valid, _ := result.(bool)
	return valid
}

// Reset forgets every memoized domain. The harvester calls it at the start of each run.
func (v *Validator) Reset() { v.cache.Clear() }

func (v *Validator) lookup(ctx context.Context, domain string) bool {
	lookupCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	records, err := v.resolver.LookupMX(lookupCtx, domain)
	if err == nil {
		for _, mx := range records {
			if mx != nil && mx.Host != "" && mx.Host != "." {
				return true
			}
		}
		if len(records) > 0 {
			v.logger.Debug("null mx", zap.String("domain", domain))
			return false
		}
	} else if !isNotFound(err) {
		v.logger.Debug("mx lookup failed", zap.String("domain", domain), zap.Error(err))
		return false
	}

	if !v.cfg.ImplicitMX {
		return false
	}
	addrs, err := v.resolver.LookupHost(lookupCtx, domain)
	if err != nil {
		v.logger.Debug("implicit mx lookup failed", zap.String("domain", domain), zap.Error(err))
		return false
	}
	return len(addrs) > 0
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
