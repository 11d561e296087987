package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapehive/discovery/internal/dedup"
	"github.com/scrapehive/discovery/internal/discovery"
	"github.com/scrapehive/discovery/internal/ledger"
	"github.com/scrapehive/discovery/internal/pool"
	"github.com/scrapehive/discovery/internal/quota"
)

// fakeAggregator yields a fixed number of unique URLs per page for any topic.
type fakeAggregator struct {
	perPage int
}

func (f *fakeAggregator) Discover(_ context.Context, topic discovery.Topic, page int) *discovery.AggregateResult {
	result := &discovery.AggregateResult{PrimarySource: "feeds"}
	for i := 0; i < f.perPage; i++ {
		url := fmt.Sprintf("https://%s.example/p%d/u%d", topic.ID, page, i)
		result.Candidates = append(result.Candidates, discovery.URLCandidate{
			URL:       url,
			TopicID:   topic.ID,
			TopicName: topic.Name,
			Source:    "feeds",
		})
		result.PayloadBytes += len(url) + 48
	}
	return result
}

type testEnv struct {
	app     *fiber.App
	quota   *quota.Manager
	pool    *pool.Cache
	dedup   dedup.Ledger
	gateway *ledger.Client
}

func newTestEnv(t *testing.T, gatewayURL string) *testEnv {
	t.Helper()

	dedupLedger := dedup.NewMemoryLedger(0)
	manager := quota.NewManager(nil)
	poolCache := pool.NewCache(&fakeAggregator{perPage: 100}, dedupLedger)
	gateway := ledger.NewClient(gatewayURL)

	h := NewHandlers(poolCache, manager, dedupLedger, gateway, nil)

	app := fiber.New()
	app.Get("/health", h.Health)
	app.Post("/urls", h.GetURLs)
	app.Get("/quota", h.GetQuota)
	app.Get("/analytics", h.GetAnalytics)
	app.Post("/report-scrape", h.ReportScrape)
	app.Get("/system-stats", h.GetSystemStats)
	app.Get("/canister-data", h.GetCanisterData)
	app.Post("/reset", h.ResetPool)

	return &testEnv{app: app, quota: manager, pool: poolCache, dedup: dedupLedger, gateway: gateway}
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func getJSON(t *testing.T, app *fiber.App, path string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]json.RawMessage {
	t.Helper()
	defer resp.Body.Close()

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func field[T any](t *testing.T, raw map[string]json.RawMessage, key string) T {
	t.Helper()
	var v T
	require.Contains(t, raw, key)
	require.NoError(t, json.Unmarshal(raw[key], &v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")

	resp, body := getJSON(t, env.app, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", field[string](t, body, "status"))
}

func TestGetURLsValidation(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")

	resp, _ := postJSON(t, env.app, "/urls", map[string]any{
		"topics": []map[string]string{{"id": "t1", "name": "topic"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, env.app, "/urls", map[string]any{
		"clientId": "client-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetURLsDeliversBatch(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")

	resp, body := postJSON(t, env.app, "/urls", map[string]any{
		"clientId":  "client-1",
		"topics":    []map[string]string{{"id": "t1", "name": "climate"}},
		"batchSize": 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 10, field[int](t, body, "totalUrls"))

	urls := field[map[string][]discovery.URLCandidate](t, body, "urls")
	require.Len(t, urls["t1"], 10)

	quotaInfo := field[map[string]json.RawMessage](t, body, "quotaInfo")
	assert.Equal(t, "basic", field[string](t, quotaInfo, "tier"))
	assert.Equal(t, 10, field[int](t, quotaInfo, "used"))
	assert.Equal(t, 40, field[int](t, quotaInfo, "remaining"))
	assert.False(t, field[bool](t, quotaInfo, "exceeded"))
}

func TestGetURLsClipsToQuota(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")

	// Basic tier caps the first oversized request at 50. The clipped call
	// still succeeded, so it is not reported as refused.
	_, body := postJSON(t, env.app, "/urls", map[string]any{
		"clientId":  "client-1",
		"topics":    []map[string]string{{"id": "t1", "name": "climate"}},
		"batchSize": 80,
	})
	assert.Equal(t, 50, field[int](t, body, "totalUrls"))

	quotaInfo := field[map[string]json.RawMessage](t, body, "quotaInfo")
	assert.False(t, field[bool](t, quotaInfo, "exceeded"))
	assert.Equal(t, 50, field[int](t, quotaInfo, "used"))
	assert.Equal(t, 0, field[int](t, quotaInfo, "remaining"))

	// Quota is spent; the next request gets nothing.
	resp, body := postJSON(t, env.app, "/urls", map[string]any{
		"clientId":  "client-1",
		"topics":    []map[string]string{{"id": "t1", "name": "climate"}},
		"batchSize": 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, field[int](t, body, "totalUrls"))

	quotaInfo = field[map[string]json.RawMessage](t, body, "quotaInfo")
	assert.True(t, field[bool](t, quotaInfo, "exceeded"))
	assert.Equal(t, 0, field[int](t, quotaInfo, "remaining"))
}

func TestGetQuotaEndpoint(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")

	resp, _ := getJSON(t, env.app, "/quota")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.quota.ApplyDelivery("client-1", 20, "t1", "topic", 0)

	resp, body := getJSON(t, env.app, "/quota?clientId=client-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "basic", field[string](t, body, "tier"))
	assert.Equal(t, 20, field[int](t, body, "used"))
	assert.Equal(t, 30, field[int](t, body, "remaining"))
	assert.Equal(t, int64(20), field[int64](t, body, "totalPoints"))
}

func TestReportScrapeEndpoint(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")

	resp, body := postJSON(t, env.app, "/report-scrape", map[string]any{
		"clientId":      "client-1",
		"urlsScraped":   15,
		"topicId":       "t1",
		"topicName":     "climate",
		"bandwidthUsed": 4096,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(15), field[int64](t, body, "pointsEarned"))

	rec := env.quota.Snapshot("client-1")
	assert.Equal(t, int64(15), rec.TotalDelivered)
	assert.Equal(t, int64(4096), rec.BandwidthBytes)
}

func TestReportScrapeRejectsNegativeCount(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")

	resp, _ := postJSON(t, env.app, "/report-scrape", map[string]any{
		"clientId":    "client-1",
		"urlsScraped": -5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyticsEndpoint(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")
	env.quota.ApplyDelivery("client-1", 10, "t1", "climate", 1024)

	resp, body := getJSON(t, env.app, "/analytics?clientId=client-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "client-1", field[string](t, body, "clientId"))
	topics := field[map[string]quota.TopicStats](t, body, "topics")
	assert.Equal(t, int64(10), topics["t1"].Count)

	hours := field[[]int64](t, body, "deliveredByHourOfDay")
	require.Len(t, hours, 24)
}

func TestSystemStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")

	postJSON(t, env.app, "/urls", map[string]any{
		"clientId":  "client-1",
		"topics":    []map[string]string{{"id": "t1", "name": "climate"}},
		"batchSize": 10,
	})

	resp, body := getJSON(t, env.app, "/system-stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(10), field[int64](t, body, "totalUrlsTracked"))
	assert.Equal(t, 1, field[int](t, body, "clients"))
}

func TestCanisterDataFallsBackToLocal(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:1") // nothing listens here
	env.quota.ApplyScrapeReport("client-1", 5, "t1", "topic", 0)

	resp, body := getJSON(t, env.app, "/canister-data?clientId=client-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "local", field[string](t, body, "source"))
}

func TestCanisterDataProxiesGateway(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		fmt.Fprint(w, `{"clientId":"client-1","tier":"gold","totalPoints":7000}`)
	}))
	defer server.Close()

	env := newTestEnv(t, server.URL)

	resp, body := getJSON(t, env.app, "/canister-data?clientId=client-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ledger", field[string](t, body, "source"))

	data := field[map[string]json.RawMessage](t, body, "data")
	assert.Equal(t, "gold", field[string](t, data, "tier"))
}

func TestResetEndpoint(t *testing.T) {
	env := newTestEnv(t, "http://unused.local")

	postJSON(t, env.app, "/urls", map[string]any{
		"clientId":  "client-1",
		"topics":    []map[string]string{{"id": "t1", "name": "climate"}},
		"batchSize": 10,
	})

	resp, body := postJSON(t, env.app, "/reset", map[string]any{"clientId": "client-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reset", field[string](t, body, "status"))

	// Quota survives a pool reset.
	rec := env.quota.Snapshot("client-1")
	assert.Equal(t, 10, rec.DailyDelivered)
}
