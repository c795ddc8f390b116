package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultBingEndpoint is the Bing Web Search v7 endpoint.
const DefaultBingEndpoint = "https://api.bing.microsoft.com/v7.0/search"

// Bing queries the Bing Web Search API.
type Bing struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	userAgent string
}

// NewBing builds the provider; an empty endpoint uses DefaultBingEndpoint.
func NewBing(client *http.Client, endpoint, apiKey, userAgent string) *Bing {
	if endpoint == "" {
		endpoint = DefaultBingEndpoint
	}
	return &Bing{client: client, endpoint: endpoint, apiKey: apiKey, userAgent: userAgent}
}

// Name implements harvest.SearchProvider.
func (b *Bing) Name() string { return "bing" }

type bingResponse struct {
	WebPages struct {
		Value []struct {
			URL string `json:"url"`
		} `json:"value"`
	} `json:"webPages"`
}

// Search implements harvest.SearchProvider.
func (b *Bing) Search(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(limit))
	params.Set("textDecorations", "false")
	params.Set("textFormat", "Raw")

	headers := http.Header{}
	headers.Set("Ocp-Apim-Subscription-Key", b.apiKey)
	if b.userAgent != "" {
		headers.Set("User-Agent", b.userAgent)
	}

	var payload bingResponse
	if err := getJSON(ctx, b.client, b.Name(), b.endpoint, params, headers, &payload); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(payload.WebPages.Value))
	for _, item := range payload.WebPages.Value {
		if item.URL != "" {
			out = append(out, item.URL)
		}
	}
	return out, nil
}
