package intercept

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/agentlens/internal/config"
	"github.com/ppiankov/agentlens/internal/metrics"
	"github.com/ppiankov/agentlens/internal/visit"
)

// --- Test helpers ---

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// originBody is served by the test origin; binary bytes catch any rewriting.
var originBody = append([]byte("# Guide\n\nhello agent\n"), 0x00, 0xff, 0x10)

func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("X-Origin", "docs")
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.WriteHeader(http.StatusTeapot)
		w.Write(originBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// sinkRecorder is a webhook that records received events.
type sinkRecorder struct {
	srv    *httptest.Server
	events chan visit.Event
}

func newSink(t *testing.T, status int) *sinkRecorder {
	t.Helper()
	rec := &sinkRecorder{events: make(chan visit.Event, 16)}
	rec.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev visit.Event
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &ev); err == nil {
			rec.events <- ev
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(rec.srv.Close)
	return rec
}

func (s *sinkRecorder) next(t *testing.T) (visit.Event, bool) {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev, true
	case <-time.After(2 * time.Second):
		return visit.Event{}, false
	}
}

func (s *sinkRecorder) none(t *testing.T) bool {
	t.Helper()
	select {
	case <-s.events:
		return false
	case <-time.After(200 * time.Millisecond):
		return true
	}
}

func testConfig(upstream string, sink visit.SinkConfig) *config.Config {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Upstream = upstream
	cfg.Sink = sink.WithDefaults()
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *lockedBuffer, *metrics.Metrics) {
	t.Helper()
	logs := &lockedBuffer{}
	m := metrics.New()
	srv, err := NewServer(cfg, Options{
		Logger:  slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Metrics: m,
		Client:  &http.Client{Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, logs, m
}

func get(t *testing.T, url, accept, ua string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}
