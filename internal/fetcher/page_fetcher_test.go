package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(harvest.FetchResponse)
	return resp, args.Error(1)
}

func newTestFetcher(strategy harvest.Fetcher) *PageFetcher {
	f := New(strategy, harvest.NewRetryPolicy(3, time.Millisecond, 2*time.Millisecond), zap.NewNop())
	f.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func TestPageFetcherSuccess(t *testing.T) {
	t.Parallel()

	m := &MockFetcher{}
	req := harvest.FetchRequest{URL: "https://example.com/contact"}
	m.On("Fetch", mock.Anything, req).Return(harvest.FetchResponse{
		URL: "https://example.com/contact/", StatusCode: http.StatusOK, Body: []byte("ok"),
	}, nil).Once()

	res := newTestFetcher(m).Fetch(context.Background(), req.URL)
	require.True(t, res.OK())
	require.Equal(t, "https://example.com/contact/", res.FinalURL)
	require.Equal(t, 1, res.Attempts)
	m.AssertExpectations(t)
}

func TestPageFetcherRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	m := &MockFetcher{}
	req := harvest.FetchRequest{URL: "https://example.com/"}
	m.On("Fetch", mock.Anything, req).Return(harvest.FetchResponse{}, harvest.StatusError{Code: http.StatusServiceUnavailable}).Once()
	m.On("Fetch", mock.Anything, req).Return(harvest.FetchResponse{}, &net.OpError{Op: "dial", Err: errors.New("reset")}).Once()
	m.On("Fetch", mock.Anything, req).Return(harvest.FetchResponse{URL: req.URL, StatusCode: 200}, nil).Once()

	res := newTestFetcher(m).Fetch(context.Background(), req.URL)
	require.True(t, res.OK())
	require.Equal(t, 3, res.Attempts)
	m.AssertExpectations(t)
}

func TestPageFetcherGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	m := &MockFetcher{}
	m.On("Fetch", mock.Anything, mock.Anything).Return(harvest.FetchResponse{}, harvest.StatusError{Code: http.StatusBadGateway})

	res := newTestFetcher(m).Fetch(context.Background(), "https://example.com/")
	require.False(t, res.OK())
	require.Equal(t, harvest.OutcomeFailed, res.Outcome)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, "status_502", res.Reason)
	require.Equal(t, http.StatusBadGateway, res.StatusCode)
	m.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestPageFetcherDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	m := &MockFetcher{}
	m.On("Fetch", mock.Anything, mock.Anything).Return(harvest.FetchResponse{}, harvest.StatusError{Code: http.StatusNotFound})

	res := newTestFetcher(m).Fetch(context.Background(), "https://example.com/missing")
	require.Equal(t, harvest.OutcomeFailed, res.Outcome)
	require.Equal(t, 1, res.Attempts)
	m.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestPageFetcherUnsupportedURL(t *testing.T) {
	t.Parallel()

	m := &MockFetcher{}
	res := newTestFetcher(m).Fetch(context.Background(), "mailto:info@example.com")
	require.Equal(t, harvest.OutcomeUnsupported, res.Outcome)
	m.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestPageFetcherStopsOnCanceledBackoff(t *testing.T) {
	t.Parallel()

	m := &MockFetcher{}
	m.On("Fetch", mock.Anything, mock.Anything).Return(harvest.FetchResponse{}, harvest.StatusError{Code: http.StatusTooManyRequests})

	f := New(m, harvest.NewRetryPolicy(5, time.Hour, time.Hour), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.Fetch(ctx, "https://example.com/")
	require.Equal(t, harvest.OutcomeFailed, res.Outcome)
	require.Equal(t, "canceled", res.Reason)
	m.AssertNumberOfCalls(t, "Fetch", 1)
}
