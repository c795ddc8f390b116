package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// DefaultSerpAPIEndpoint is the SerpApi JSON search endpoint.
const DefaultSerpAPIEndpoint = "https://serpapi.com/search.json"

// SerpAPI queries Google results through SerpApi.
type SerpAPI struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewSerpAPI builds the provider; an empty endpoint uses DefaultSerpAPIEndpoint.
func NewSerpAPI(client *http.Client, endpoint, apiKey string) *SerpAPI {
	if endpoint == "" {
		endpoint = DefaultSerpAPIEndpoint
	}
	return &SerpAPI{client: client, endpoint: endpoint, apiKey: apiKey}
}

// Name implements harvest.SearchProvider.
func (s *SerpAPI) Name() string { return "serpapi" }

type serpAPIResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Link string `json:"link"`
		URL  string `json:"url"`
	} `json:"organic_results"`
}

// Search implements harvest.SearchProvider.
func (s *SerpAPI) Search(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("engine", "google")
	params.Set("num", strconv.Itoa(limit))
	params.Set("api_key", s.apiKey)

	var payload serpAPIResponse
	if err := getJSON(ctx, s.client, s.Name(), s.endpoint, params, nil, &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" && len(payload.OrganicResults) == 0 {
		return nil, serpAPIError(payload.Error)
	}
	out := make([]string, 0, len(payload.OrganicResults))
	for _, item := range payload.OrganicResults {
		switch {
		case item.Link != "":
			out = append(out, item.Link)
		case item.URL != "":
			out = append(out, item.URL)
		}
	}
	return out, nil
}

// serpAPIError classifies errors SerpApi reports inside a 200 body.
// "Google hasn't returned any results" is a plain empty result, not a failure.
func serpAPIError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "hasn't returned any results"):
		return nil
	case strings.Contains(lower, "run out of searches"), strings.Contains(lower, "limit"):
		return &harvest.ProviderError{Provider: "serpapi", Status: http.StatusOK, Err: fmt.Errorf("%w: %s", harvest.ErrQuota, msg)}
	case strings.Contains(lower, "api key"):
		return &harvest.ProviderError{Provider: "serpapi", Status: http.StatusOK, Err: fmt.Errorf("%w: %s", harvest.ErrAuth, msg)}
	default:
		return &harvest.ProviderError{Provider: "serpapi", Status: http.StatusOK, Err: fmt.Errorf("%w: %s", harvest.ErrProviderUnavailable, msg)}
	}
}
