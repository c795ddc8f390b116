package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/app"
	"github.com/JakeFAU/email-harvester/internal/harvest"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

// blockingRun records its input and blocks until released or canceled.
type blockingRun struct {
	mu      sync.Mutex
	inputs  []app.Input
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingRun() *blockingRun {
	return &blockingRun{started: make(chan struct{}, 4), release: make(chan struct{})}
}

func (b *blockingRun) Run(ctx context.Context, in app.Input) (app.Result, error) {
	b.mu.Lock()
	b.inputs = append(b.inputs, in)
	b.mu.Unlock()
	b.started <- struct{}{}
	res := app.Result{
		RunID:    "run-1",
		Progress: harvest.Progress{Total: 1, Completed: 1},
		Records: []harvest.EmailRecord{
			{Email: "info@a.example", FirstSource: "https://a.example/", Sources: []string{"https://a.example/"}, Domain: "a.example", Quality: harvest.TierLow},
		},
	}
	select {
	case <-b.release:
		return res, b.err
	case <-ctx.Done():
		return res, ctx.Err()
	}
}

func newTestServer(t *testing.T, run *blockingRun, cfg Config) (*Server, *Runs) {
	t.Helper()
	runs := NewRuns(context.Background(), run.Run, func() harvest.Progress {
		return harvest.Progress{Total: 5, Completed: 2}
	}, &fakeClock{now: time.Unix(100, 0).UTC()})
	return NewServer(runs, cfg, zap.NewNop()), runs
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerRunLifecycle(t *testing.T) {
	t.Parallel()

	run := newBlockingRun()
	server, runs := newTestServer(t, run, Config{})

	rec := do(t, server, http.MethodGet, "/v1/runs/current", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"idle"`)

	rec = do(t, server, http.MethodPost, "/v1/runs", `{"categories":[" dentist ",""],"seeds":[]}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	<-run.started
	require.Equal(t, []app.Input{{Categories: []string{"dentist"}}}, run.inputs)

	rec = do(t, server, http.MethodGet, "/v1/runs/current", "", nil)
	var status RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, RunRunning, status.State)
	require.Equal(t, int64(2), status.Progress.Completed)

	rec = do(t, server, http.MethodPost, "/v1/runs", `{"seeds":["https://b.example"]}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, server, http.MethodGet, "/v1/runs/current/records.csv", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	close(run.release)
	require.NoError(t, runs.Wait(context.Background()))

	status = runs.Status()
	require.Equal(t, RunSucceeded, status.State)
	require.Equal(t, 1, status.Tiers[harvest.TierLow])

	rec = do(t, server, http.MethodGet, "/v1/runs/current/records.csv", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "email,"))
	require.Contains(t, rec.Body.String(), "info@a.example")
}

func TestServerCancelRun(t *testing.T) {
	t.Parallel()

	run := newBlockingRun()
	server, runs := newTestServer(t, run, Config{})

	rec := do(t, server, http.MethodPost, "/v1/runs/current/cancel", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, runs.Start(app.Input{Seeds: []string{"https://a.example"}}))
	<-run.started
	rec = do(t, server, http.MethodPost, "/v1/runs/current/cancel", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, runs.Wait(context.Background()))

	status := runs.Status()
	require.Equal(t, RunCanceled, status.State)
	require.Contains(t, status.Error, "context canceled")
}

func TestRunsRecordsFailure(t *testing.T) {
	t.Parallel()

	run := newBlockingRun()
	run.err = errors.New("queue enqueue: boom")
	close(run.release)
	runs := NewRuns(context.Background(), run.Run, nil, nil)

	require.NoError(t, runs.Wait(context.Background()))
	require.NoError(t, runs.Start(app.Input{Categories: []string{"x"}}))
	require.NoError(t, runs.Wait(context.Background()))
	status := runs.Status()
	require.Equal(t, RunFailed, status.State)
	require.Equal(t, "queue enqueue: boom", status.Error)
	require.False(t, status.Finished.IsZero())
}

func TestServerStartRunValidation(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, newBlockingRun(), Config{})

	rec := do(t, server, http.MethodPost, "/v1/runs", "{invalid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/v1/runs", `{"categories":["  "]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "categories or seeds required")
}

func TestServerAPIKey(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, newBlockingRun(), Config{APIKey: "secret"})

	rec := do(t, server, http.MethodGet, "/v1/runs/current", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, server, http.MethodGet, "/v1/runs/current", "", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodGet, "/v1/runs/current", "", map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = do(t, server, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerProbesAndMetrics(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, newBlockingRun(), Config{})

	rec := do(t, server, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"run":"idle"`)

	rec = do(t, server, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, newBlockingRun(), Config{})

	rec := do(t, server, http.MethodGet, "/healthz", "", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, server, http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
