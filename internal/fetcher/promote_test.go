package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/email-harvester/internal/harvest"
	"github.com/JakeFAU/email-harvester/internal/headless/detector"
)

func TestPromotingRendersAppShells(t *testing.T) {
	t.Parallel()

	req := harvest.FetchRequest{URL: "https://spa.example/contact"}
	probe := &MockFetcher{}
	probe.On("Fetch", mock.Anything, req).Return(harvest.FetchResponse{
		URL: req.URL, StatusCode: http.StatusOK, Body: []byte(`<div id="root"></div>`),
	}, nil).Once()
	headless := &MockFetcher{}
	headless.On("Fetch", mock.Anything, req).Return(harvest.FetchResponse{
		URL: req.URL, StatusCode: http.StatusOK, Body: []byte(`<a href="mailto:hi@spa.example">hi</a>`),
	}, nil).Once()

	resp, err := NewPromoting(probe, headless, detector.NewHeuristic(0), nil).Fetch(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.UsedHeadless)
	require.Contains(t, string(resp.Body), "mailto:")
	probe.AssertExpectations(t)
	headless.AssertExpectations(t)
}

func TestPromotingKeepsProbeWhenNotNeededOrFailed(t *testing.T) {
	t.Parallel()

	plain := harvest.FetchRequest{URL: "https://plain.example/"}
	shell := harvest.FetchRequest{URL: "https://shell.example/"}
	probe := &MockFetcher{}
	probe.On("Fetch", mock.Anything, plain).Return(harvest.FetchResponse{
		URL: plain.URL, StatusCode: http.StatusOK, Body: []byte(`<p>write to a@plain.example</p>`),
	}, nil).Once()
	probe.On("Fetch", mock.Anything, shell).Return(harvest.FetchResponse{
		URL: shell.URL, StatusCode: http.StatusOK, Body: []byte(`<div id="app"></div>`),
	}, nil).Once()
	headless := &MockFetcher{}
	headless.On("Fetch", mock.Anything, shell).Return(harvest.FetchResponse{}, errors.New("chrome missing")).Once()

	p := NewPromoting(probe, headless, detector.NewHeuristic(0), nil)

	resp, err := p.Fetch(context.Background(), plain)
	require.NoError(t, err)
	require.False(t, resp.UsedHeadless)

	resp, err = p.Fetch(context.Background(), shell)
	require.NoError(t, err)
	require.False(t, resp.UsedHeadless)
	require.Equal(t, `<div id="app"></div>`, string(resp.Body))
	headless.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestPromotingPropagatesProbeError(t *testing.T) {
	t.Parallel()

	req := harvest.FetchRequest{URL: "https://down.example/"}
	probe := &MockFetcher{}
	probe.On("Fetch", mock.Anything, req).Return(harvest.FetchResponse{}, harvest.StatusError{Code: http.StatusBadGateway}).Once()
	headless := &MockFetcher{}

	_, err := NewPromoting(probe, headless, detector.NewHeuristic(0), nil).Fetch(context.Background(), req)
	var status harvest.StatusError
	require.ErrorAs(t, err, &status)
	headless.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}
