package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/closeflow/internal/observability"
	"github.com/odyssey-erp/closeflow/internal/wizard"
	"github.com/odyssey-erp/closeflow/jobs"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func testConfig() *Config {
	return &Config{AppEnv: "test", ClientCookie: "cf", ClientCookieTTL: time.Hour}
}

func TestHealthAndReadiness(t *testing.T) {
	router := NewRouter(RouterParams{Logger: NewLogger(nil), Config: testConfig(), Backend: stubPinger{}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	down := NewRouter(RouterParams{Logger: NewLogger(nil), Config: testConfig(), Backend: stubPinger{err: errors.New("refused")}})
	rr = httptest.NewRecorder()
	down.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsAndJobsMounted(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Logger:     NewLogger(nil),
		Config:     testConfig(),
		Metrics:    metrics,
		JobHandler: jobs.NewHandler(nil, NewLogger(nil)),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "closeflow_http_requests_total")
}

func TestClientIDCookieIsIssuedOnceAndReused(t *testing.T) {
	var seen []string
	r := chi.NewRouter()
	r.Use(ClientID("cf", 0, false))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, wizard.ClientIDFromContext(r.Context()))
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, seen[0], cookies[0].Value)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Empty(t, rr.Result().Cookies())
	require.Equal(t, seen[0], seen[1])

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "cf", Value: "not-a-uuid"})
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Len(t, rr.Result().Cookies(), 1)
	require.NotEqual(t, "not-a-uuid", seen[2])
}

func TestRequestsAreLoggedOnceThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json"})
	router := NewRouter(RouterParams{Logger: logger, Config: testConfig()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, 1, strings.Count(buf.String(), `"msg":"http request"`))
	require.Contains(t, buf.String(), `"path":"/healthz"`)
}
