package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

const maxResponseBytes = 4 << 20

// NewHTTPClient returns the client shared by all providers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// getBody issues a GET and returns the body of a 2xx response. Other statuses
// become a *harvest.ProviderError classified by ClassifyStatus.
func getBody(
	ctx context.Context,
	client *http.Client,
	provider, endpoint string,
	params url.Values,
	headers http.Header,
) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &harvest.ProviderError{Provider: provider, Err: fmt.Errorf("parse endpoint: %w", err)}
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &harvest.ProviderError{Provider: provider, Err: fmt.Errorf("new request: %w", err)}
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &harvest.ProviderError{Provider: provider, Err: fmt.Errorf("%w: %w", harvest.ErrProviderUnavailable, err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &harvest.ProviderError{Provider: provider, Status: resp.StatusCode, Err: fmt.Errorf("%w: read body: %w", harvest.ErrProviderUnavailable, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &harvest.ProviderError{Provider: provider, Status: resp.StatusCode, Err: harvest.ClassifyStatus(resp.StatusCode)}
	}
	return body, nil
}

func getJSON(
	ctx context.Context,
	client *http.Client,
	provider, endpoint string,
	params url.Values,
	headers http.Header,
	out any,
) error {
	body, err := getBody(ctx, client, provider, endpoint, params, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &harvest.ProviderError{Provider: provider, Status: http.StatusOK, Err: fmt.Errorf("%w: %w", harvest.ErrMalformedResponse, err)}
	}
	return nil
}
