package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/harvest"
	"github.com/JakeFAU/email-harvester/internal/metrics"
)

// DefaultHunterBaseURL is the Hunter v2 API root.
const DefaultHunterBaseURL = "https://api.hunter.io/v2"

const (
	defaultPollInterval = time.Second
	defaultPollTimeout  = 20 * time.Second
	maxHunterBody       = 2 << 20
)

// HunterConfig configures the Hunter client.
type HunterConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// HunterClient implements harvest.Enricher against the Hunter API.
type HunterClient struct {
	client *http.Client
	cfg    HunterConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewHunterClient builds a client; zero durations fall back to 1s polls for up to 20s.
func NewHunterClient(client *http.Client, cfg HunterConfig, logger *zap.Logger) *HunterClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHunterBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HunterClient{client: client, cfg: cfg, logger: logger, sleep: sleepCtx}
}

type domainSearchResponse struct {
	Data struct {
		Emails []struct {
			Value      string   `json:"value"`
			Confidence *float64 `json:"confidence"`
		} `json:"emails"`
	} `json:"data"`
}

// DomainSearch implements harvest.Enricher.
func (h *HunterClient) DomainSearch(ctx context.Context, domain string, limit int) ([]harvest.DomainEmail, error) {
	if domain == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("domain", domain)
	params.Set("api_key", h.cfg.APIKey)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	status, body, err := h.get(ctx, "/domain-search", params)
	if err == nil && status != http.StatusOK {
		err = &harvest.ProviderError{Provider: "hunter", Status: status, Err: harvest.ClassifyStatus(status)}
	}
	var payload domainSearchResponse
	if err == nil {
		if jsonErr := json.Unmarshal(body, &payload); jsonErr != nil {
			err = &harvest.ProviderError{Provider: "hunter", Status: status, Err: fmt.Errorf("%w: %w", harvest.ErrMalformedResponse, jsonErr)}
		}
	}
	metrics.ObserveEnrichment("domain_search", harvest.ErrorLabel(err))
	if err != nil {
		return nil, err
	}

	out := make([]harvest.DomainEmail, 0, len(payload.Data.Emails))
	for _, item := range payload.Data.Emails {
		if item.Value == "" {
			continue
		}
		out = append(out, harvest.DomainEmail{Email: item.Value, Confidence: normalizeConfidence(item.Confidence)})
	}
	return out, nil
}

type verifyResponse struct {
	Data struct {
		Status string   `json:"status"`
		Result string   `json:"result"`
		Score  *float64 `json:"score"`
	} `json:"data"`
}

// Verify implements harvest.Enricher. A 202 means Hunter is still checking;
// the client polls until PollTimeout and then reports ErrVerificationTimedOut.
func (h *HunterClient) Verify(ctx context.Context, email string) (harvest.Verification, error) {
	params := url.Values{}
	params.Set("email", email)
	params.Set("api_key", h.cfg.APIKey)

	deadline := time.Now().Add(h.cfg.PollTimeout)
	for {
		status, body, err := h.get(ctx, "/email-verifier", params)
		if err != nil {
			metrics.ObserveEnrichment("verify", harvest.ErrorLabel(err))
			return harvest.Verification{}, err
		}
		switch status {
		case http.StatusOK:
			var payload verifyResponse
			if err := json.Unmarshal(body, &payload); err != nil {
				err = &harvest.ProviderError{Provider: "hunter", Status: status, Err: fmt.Errorf("%w: %w", harvest.ErrMalformedResponse, err)}
				metrics.ObserveEnrichment("verify", harvest.ErrorLabel(err))
				return harvest.Verification{}, err
			}
			metrics.ObserveEnrichment("verify", "ok")
			return harvest.Verification{
				Result:     mapVerifyResult(payload.Data.Result, payload.Data.Status),
				Confidence: normalizeConfidence(payload.Data.Score),
			}, nil
		case http.StatusAccepted:
			if time.Now().After(deadline) {
				err := fmt.Errorf("verify %s: %w", email, harvest.ErrVerificationTimedOut)
				metrics.ObserveEnrichment("verify", harvest.ErrorLabel(err))
				return harvest.Verification{}, err
			}
			h.logger.Debug("verification pending", zap.String("email", email))
			if err := h.sleep(ctx, h.cfg.PollInterval); err != nil {
				return harvest.Verification{}, err
			}
		default:
			err := &harvest.ProviderError{Provider: "hunter", Status: status, Err: harvest.ClassifyStatus(status)}
			metrics.ObserveEnrichment("verify", harvest.ErrorLabel(err))
			return harvest.Verification{}, err
		}
	}
}

func (h *HunterClient) get(ctx context.Context, path string, params url.Values) (int, []byte, error) {
	endpoint := h.cfg.BaseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, &harvest.ProviderError{Provider: "hunter", Err: fmt.Errorf("%w: %w", harvest.ErrProviderUnavailable, err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHunterBody))
	if err != nil {
		return resp.StatusCode, nil, &harvest.ProviderError{Provider: "hunter", Status: resp.StatusCode, Err: fmt.Errorf("%w: read body: %w", harvest.ErrProviderUnavailable, err)}
	}
	return resp.StatusCode, body, nil
}

// mapVerifyResult prefers Hunter's "result" field and falls back to "status".
func mapVerifyResult(result, status string) harvest.VerifyResult {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "deliverable":
		return harvest.VerifyDeliverable
	case "undeliverable":
		return harvest.VerifyUndeliverable
	case "risky":
		return harvest.VerifyRisky
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "valid":
		return harvest.VerifyDeliverable
	case "invalid":
		return harvest.VerifyUndeliverable
	case "accept_all", "webmail", "disposable":
		return harvest.VerifyRisky
	}
	return harvest.VerifyUnknown
}

// normalizeConfidence returns a 0-100 integer. Only fractions strictly between
// 0 and 1 are scaled; integer scores such as 0 or 1 are already percentages.
func normalizeConfidence(v *float64) *int {
	if v == nil || math.IsNaN(*v) || *v < 0 {
		return nil
	}
	f := *v
	if f > 0 && f < 1 {
		f *= 100
	}
	n := int(math.Round(min(f, 100)))
	return &n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
