package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aravula7/agentic-rag-analytics/internal/cache"
	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

type fakeRunner struct {
	resp *pipeline.Response
	req  pipeline.Request
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) *pipeline.Response {
	f.req = req
	return f.resp
}

type fakeCacheAdmin struct {
	stats   *cache.Stats
	cleared int64
	err     error
}

func (f *fakeCacheAdmin) ReadStats(ctx context.Context) (*cache.Stats, error) {
	return f.stats, f.err
}

func (f *fakeCacheAdmin) Clear(ctx context.Context) (int64, error) {
	return f.cleared, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func newTestServer(runner Runner, cacheAdmin CacheAdmin, db Pinger) http.Handler {
	return New(runner, cacheAdmin, db, nil, nil, "test", nil).Router()
}

type fakePresigner struct{ url string }

func (f *fakePresigner) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return f.url + key, nil
}

func postQuery(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQuerySuccess(t *testing.T) {
	runner := &fakeRunner{resp: &pipeline.Response{Success: true, Query: "top customers", GeneratedSQL: "SELECT 1"}}
	h := newTestServer(runner, nil, &fakePinger{})

	rec := postQuery(t, h, `{"query": "top customers", "enable_cache": true, "user_email": "a@example.com"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "top customers", runner.req.Query)
	assert.True(t, runner.req.UseCache)
	assert.Equal(t, "a@example.com", runner.req.Recipient)

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestQueryEmptyIsBadRequest(t *testing.T) {
	runner := &fakeRunner{resp: &pipeline.Response{}}
	h := newTestServer(runner, nil, &fakePinger{})

	for _, body := range []string{`{"query": ""}`, `{"query": "   "}`, `{}`} {
		rec := postQuery(t, h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
	assert.Empty(t, runner.req.Query, "pipeline must not run for empty queries")
}

func TestQueryCacheDefaultsOn(t *testing.T) {
	runner := &fakeRunner{resp: &pipeline.Response{Success: true}}
	h := newTestServer(runner, nil, &fakePinger{})

	postQuery(t, h, `{"query": "q"}`)
	assert.True(t, runner.req.UseCache)

	postQuery(t, h, `{"query": "q", "enable_cache": false}`)
	assert.False(t, runner.req.UseCache)
}

func TestQueryMalformedBodyIsBadRequest(t *testing.T) {
	h := newTestServer(&fakeRunner{resp: &pipeline.Response{}}, nil, &fakePinger{})

	rec := postQuery(t, h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryFatalFailureIs500(t *testing.T) {
	runner := &fakeRunner{resp: &pipeline.Response{
		Success: false,
		Error:   "SQL generation failed: budget exhausted",
	}}
	h := newTestServer(runner, nil, &fakePinger{})

	rec := postQuery(t, h, `{"query": "q"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestQueryNegativeClassificationIs200(t *testing.T) {
	runner := &fakeRunner{resp: &pipeline.Response{
		Success:  false,
		Decision: &pipeline.Decision{RequiresSQL: false, Reasoning: "greeting"},
		Error:    "query does not require database access per router decision",
	}}
	h := newTestServer(runner, nil, &fakePinger{})

	rec := postQuery(t, h, `{"query": "hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeRunner{resp: &pipeline.Response{}}, nil, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestHealthDegradedWhenDatabaseDown(t *testing.T) {
	h := newTestServer(&fakeRunner{resp: &pipeline.Response{}}, nil, &fakePinger{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCacheStats(t *testing.T) {
	admin := &fakeCacheAdmin{stats: &cache.Stats{Entries: 7, TTL: "24h0m0s"}}
	h := newTestServer(&fakeRunner{resp: &pipeline.Response{}}, admin, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(7), stats.Entries)
}

func TestCacheClear(t *testing.T) {
	admin := &fakeCacheAdmin{cleared: 3}
	h := newTestServer(&fakeRunner{resp: &pipeline.Response{}}, admin, &fakePinger{})

	req := httptest.NewRequest(http.MethodDelete, "/api/cache", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body["removed"])
}

func TestReportURL(t *testing.T) {
	h := New(&fakeRunner{resp: &pipeline.Response{}}, nil, &fakePinger{}, &fakePresigner{url: "https://signed/"}, nil, "test", nil).Router()

	req := httptest.NewRequest(http.MethodGet, "/api/reports/url?key=reports/2026/08/27/query_x.csv", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "https://signed/reports/2026/08/27/query_x.csv", body["url"])
}

func TestReportURLRejectsForeignKeys(t *testing.T) {
	h := New(&fakeRunner{resp: &pipeline.Response{}}, nil, &fakePinger{}, &fakePresigner{url: "https://signed/"}, nil, "test", nil).Router()

	for _, key := range []string{"", "secrets/creds.txt", "reports/../secrets"} {
		req := httptest.NewRequest(http.MethodGet, "/api/reports/url?key="+key, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "key %q", key)
	}
}

func TestReportURLWithoutPresigner(t *testing.T) {
	h := newTestServer(&fakeRunner{resp: &pipeline.Response{}}, nil, &fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/reports/url?key=reports/x.csv", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCacheEndpointsWhenDisabled(t *testing.T) {
	h := newTestServer(&fakeRunner{resp: &pipeline.Response{}}, nil, &fakePinger{})

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/cache/stats"},
		{http.MethodDelete, "/api/cache"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "%s %s", tc.method, tc.path)
	}
}
