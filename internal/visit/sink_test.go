package visit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/agentlens/internal/detect"
)

func sampleEvent() Event {
	return Event{
		Timestamp: "2025-01-15T14:00:00.000Z",
		Host:      "docs.example.com",
		Path:      "/guide",
		Accept:    "text/markdown",
		UserAgent: "cursor/0.45.0",
		Country:   "DE",
		City:      Unknown,
		AgentType: detect.Cursor,
		IsAI:      1,
	}
}

type captured struct {
	method string
	query  string
	auth   string
	ctype  string
	body   []byte
}

func captureServer(t *testing.T, status int) (*httptest.Server, chan captured) {
	t.Helper()
	ch := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{
			method: r.Method,
			query:  r.URL.Query().Get("name"),
			auth:   r.Header.Get("Authorization"),
			ctype:  r.Header.Get("Content-Type"),
			body:   body,
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestNewSinkSelection(t *testing.T) {
	logger, _ := testLogger()
	client := NewHTTPClient(time.Second)

	assert.IsType(t, &LogSink{}, NewSink(DefaultSinkConfig(), client, logger))
	assert.IsType(t, &WebhookSink{}, NewSink(SinkConfig{Webhook: WebhookConfig{URL: "http://hook"}}, client, logger))
	assert.IsType(t, &AnalyticsSink{}, NewSink(SinkConfig{Analytics: AnalyticsConfig{Token: "t"}}, client, logger))
}

func TestAnalyticsSinkSend(t *testing.T) {
	srv, ch := captureServer(t, http.StatusAccepted)
	sink := NewSink(SinkConfig{Analytics: AnalyticsConfig{Token: "tok", URL: srv.URL + "/v0/events"}}, srv.Client(), nil)

	require.NoError(t, sink.Send(context.Background(), sampleEvent()))

	got := <-ch
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, DefaultDatasource, got.query)
	assert.Equal(t, "Bearer tok", got.auth)
	assert.Equal(t, "application/json", got.ctype)

	var ev Event
	require.NoError(t, json.Unmarshal(got.body, &ev))
	assert.Equal(t, sampleEvent(), ev)
}

func TestAnalyticsSinkCustomDatasource(t *testing.T) {
	srv, ch := captureServer(t, http.StatusOK)
	cfg := SinkConfig{Analytics: AnalyticsConfig{Token: "tok", URL: srv.URL + "?existing=1", Datasource: "docs"}}

	require.NoError(t, NewSink(cfg, srv.Client(), nil).Send(context.Background(), sampleEvent()))
	assert.Equal(t, "docs", (<-ch).query)
}

func TestWebhookSinkSend(t *testing.T) {
	srv, ch := captureServer(t, http.StatusNoContent)
	sink := NewSink(SinkConfig{Webhook: WebhookConfig{URL: srv.URL}}, srv.Client(), nil)

	require.NoError(t, sink.Send(context.Background(), sampleEvent()))

	got := <-ch
	assert.Empty(t, got.auth)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(got.body, &parsed))
	assert.Equal(t, "cursor", parsed["agent_type"])
	assert.Equal(t, 1.0, parsed["is_ai"])
}

func TestSinkServerErrorIsDeliveryError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusInternalServerError)
	sink := NewSink(SinkConfig{Webhook: WebhookConfig{URL: srv.URL}}, srv.Client(), nil)

	err := sink.Send(context.Background(), sampleEvent())
	require.Error(t, err)

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusInternalServerError, de.StatusCode)
	assert.Equal(t, "webhook", de.Sink)
}

func TestSinkTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	sink := NewSink(SinkConfig{Webhook: WebhookConfig{URL: url}}, NewHTTPClient(time.Second), nil)
	err := sink.Send(context.Background(), sampleEvent())
	require.Error(t, err)

	var de *DeliveryError
	assert.False(t, errors.As(err, &de))
}

func TestLogSinkSend(t *testing.T) {
	logger, buf := testLogger()
	sink := NewSink(DefaultSinkConfig(), nil, logger)

	require.NoError(t, sink.Send(context.Background(), sampleEvent()))

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(buf.String()), &line))
	assert.Equal(t, "visit", line["msg"])
	assert.Equal(t, "cursor", line["agent_type"])
	assert.Equal(t, "docs.example.com", line["host"])
	assert.Equal(t, 1.0, line["is_ai"])
}
