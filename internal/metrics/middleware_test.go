package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByStatusAndRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/runs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("implicit 200"))
	})
	r.Get("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	ok := httpRequestsTotal.WithLabelValues(http.MethodGet, "200")
	gone := httpRequestsTotal.WithLabelValues(http.MethodGet, "410")
	missing := httpRequestsTotal.WithLabelValues(http.MethodGet, "404")
	okBefore, goneBefore, missingBefore := testutil.ToFloat64(ok), testutil.ToFloat64(gone), testutil.ToFloat64(missing)

	for _, path := range []string{"/v1/runs/a", "/v1/runs/b", "/gone", "/nowhere"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, 2, testutil.ToFloat64(ok)-okBefore, 0)
	require.InDelta(t, 1, testutil.ToFloat64(gone)-goneBefore, 0)
	require.InDelta(t, 1, testutil.ToFloat64(missing)-missingBefore, 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
