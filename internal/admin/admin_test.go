package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/agentlens/internal/intercept"
	"github.com/ppiankov/agentlens/internal/metrics"
	"github.com/ppiankov/agentlens/internal/visit"
)

type staticSettings intercept.Settings

func (s staticSettings) Settings() intercept.Settings { return intercept.Settings(s) }

func serve(t *testing.T, r http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	r := NewRouter(staticSettings{}, metrics.New())

	rec := serve(t, r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.ObserveRequest("copilot")
	r := NewRouter(staticSettings{}, m)

	rec := serve(t, r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentlens_requests_total")
}

func TestConfigRedactsToken(t *testing.T) {
	settings := staticSettings{
		Sink: visit.SinkConfig{
			Analytics: visit.AnalyticsConfig{Token: "secret-token", URL: visit.DefaultAnalyticsURL, Datasource: "docs"},
			TrackAll:  true,
		},
		Geo: visit.DefaultGeoHeaders,
	}
	r := NewRouter(settings, metrics.New())

	rec := serve(t, r, http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-token")

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "analytics", view["sink"])
	assert.Equal(t, "docs", view["datasource"])
	assert.Equal(t, true, view["track_all"])
	assert.Equal(t, "CF-IPCountry", view["country_header"])
}

func TestConfigWebhook(t *testing.T) {
	settings := staticSettings{Sink: visit.SinkConfig{Webhook: visit.WebhookConfig{URL: "http://hook"}}}
	rec := serve(t, NewRouter(settings, metrics.New()), http.MethodGet, "/config")

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "webhook", view["sink"])
	assert.Equal(t, "http://hook", view["webhook_url"])
	assert.NotContains(t, view, "datasource")
}

func TestMethodNotAllowed(t *testing.T) {
	r := NewRouter(staticSettings{}, metrics.New())
	rec := serve(t, r, http.MethodPost, "/healthz")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRouteWithoutMetrics(t *testing.T) {
	r := NewRouter(staticSettings{}, nil)

	rec := serve(t, r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
