package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

func htmlResponder(status int, body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func TestFetcherFetchSuccess(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://example.com/contact",
		htmlResponder(http.StatusOK, `<a href="mailto:info@example.com">mail</a>`))

	f := New(Config{UserAgent: "harvester-test", Timeout: time.Second}, WithTransport(transport))
	resp, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: "https://example.com/contact"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://example.com/contact", resp.URL)
	require.Contains(t, string(resp.Body), "info@example.com")
	require.False(t, resp.UsedHeadless)

	// Fetching the same URL twice must not trip colly's visited check.
	_, err = f.Fetch(context.Background(), harvest.FetchRequest{URL: "https://example.com/contact"})
	require.NoError(t, err)
	require.Equal(t, 2, transport.GetTotalCallCount())
}

func TestFetcherFetchHTTPErrorStatus(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://example.com/missing", htmlResponder(http.StatusNotFound, "nope"))
	transport.RegisterResponder(http.MethodGet, "https://example.com/busy", htmlResponder(http.StatusServiceUnavailable, "later"))

	f := New(Config{}, WithTransport(transport))

	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: "https://example.com/missing"})
	var status harvest.StatusError
	require.ErrorAs(t, err, &status)
	require.Equal(t, http.StatusNotFound, status.Code)
	require.False(t, status.Retryable())

	_, err = f.Fetch(context.Background(), harvest.FetchRequest{URL: "https://example.com/busy"})
	require.ErrorAs(t, err, &status)
	require.True(t, status.Retryable())
}

func TestFetcherFetchTransportError(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://down.example.com/",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	f := New(Config{}, WithTransport(transport))
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: "https://down.example.com/"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
}

func TestFetcherRejectsUnsupportedURL(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: "ftp://example.com/file"})
	require.ErrorIs(t, err, harvest.ErrUnsupportedURL)
}

func TestFetcherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://slow.example.com/",
		func(req *http.Request) (*http.Response, error) {
			time.Sleep(200 * time.Millisecond)
			return httpmock.NewStringResponse(http.StatusOK, "late"), nil
		})
	f := New(Config{}, WithTransport(transport))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, harvest.FetchRequest{URL: "https://slow.example.com/"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcherSkipsNonHTMLContent(t *testing.T) {
	t.Parallel()

	pdf := httpmock.NewBytesResponse(http.StatusOK, []byte("%PDF-1.7"))
	pdf.Header.Set("Content-Type", "application/pdf")
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://example.com/brochure.pdf", httpmock.ResponderFromResponse(pdf))

	f := New(Config{}, WithTransport(transport))
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: "https://example.com/brochure.pdf"})
	require.ErrorIs(t, err, harvest.ErrUnsupportedContent)
	require.Contains(t, err.Error(), "application/pdf")
	require.Equal(t, "content_type", harvest.ErrorLabel(err))
}

func TestFetcherForwardsRequestHeaders(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://example.com/",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Accept-Language") != "en" {
				return httpmock.NewStringResponse(http.StatusBadRequest, "missing header"), nil
			}
			if req.Header.Get("User-Agent") != "harvester-test" {
				return httpmock.NewStringResponse(http.StatusBadRequest, "wrong agent"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "<p>hello</p>"), nil
		})

	f := New(Config{UserAgent: "harvester-test"}, WithTransport(transport))
	resp, err := f.Fetch(context.Background(), harvest.FetchRequest{
		URL:     "https://example.com/",
		Headers: http.Header{"Accept-Language": {"en"}},
	})
	require.NoError(t, err)
	require.Equal(t, "<p>hello</p>", string(resp.Body))
}

func TestAcceptableContentTypes(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	cases := map[string]bool{
		"":                         true,
		"text/html; charset=utf-8": true,
		"TEXT/HTML":                true,
		"application/xhtml+xml":    true,
		"text/plain":               true,
		"image/png":                false,
		"application/octet-stream": false,
		"not a media type; ; ;":    false,
	}
	for header, want := range cases {
		_, got := f.acceptable(header)
		require.Equal(t, want, got, header)
	}

	custom := New(Config{ContentTypes: []string{"application/json"}})
	_, ok := custom.acceptable("application/json")
	require.True(t, ok)
	_, ok = custom.acceptable("text/html")
	require.False(t, ok)
}
