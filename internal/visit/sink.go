package visit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxDrain bounds how much of a sink response body is read before closing.
const maxDrain = 64 << 10

// Sink delivers one visit event.
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// DeliveryError reports a non-2xx response from a sink.
type DeliveryError struct {
	Sink       string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s sink rejected event: HTTP %d", e.Sink, e.StatusCode)
}

// NewHTTPClient returns the client used for sink deliveries. A zero timeout
// leaves the deadline to the request context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// NewSink returns the sink selected by cfg.Mode.
func NewSink(cfg SinkConfig, client *http.Client, logger *slog.Logger) Sink {
	cfg = cfg.WithDefaults()
	switch cfg.Mode() {
	case ModeAnalytics:
		return &AnalyticsSink{cfg: cfg.Analytics, client: client}
	case ModeWebhook:
		return &WebhookSink{url: cfg.Webhook.URL, client: client}
	default:
		return &LogSink{logger: logger}
	}
}

// AnalyticsSink posts events to a bearer-authenticated events API,
// naming the target datasource in the query string.
type AnalyticsSink struct {
	cfg    AnalyticsConfig
	client *http.Client
}

func (s *AnalyticsSink) Name() string { return string(ModeAnalytics) }

func (s *AnalyticsSink) Send(ctx context.Context, event Event) error {
	endpoint, err := url.Parse(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse analytics url: %w", err)
	}
	q := endpoint.Query()
	q.Set("name", s.cfg.Datasource)
	endpoint.RawQuery = q.Encode()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The events API ingests NDJSON.
	body = append(body, '\n')

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.cfg.Token)
	return post(ctx, s.client, s.Name(), endpoint.String(), body, headers)
}

// WebhookSink posts each event as a JSON document without authorization.
type WebhookSink struct {
	url    string
	client *http.Client
}

func (s *WebhookSink) Name() string { return string(ModeWebhook) }

func (s *WebhookSink) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return post(ctx, s.client, s.Name(), s.url, body, nil)
}

// LogSink writes events as structured log lines. It is the development
// fallback and not a durable store.
type LogSink struct {
	logger *slog.Logger
}

func (s *LogSink) Name() string { return string(ModeLog) }

func (s *LogSink) Send(ctx context.Context, event Event) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "visit",
		slog.String("ts", event.Timestamp),
		slog.String("host", event.Host),
		slog.String("path", event.Path),
		slog.String("accept", event.Accept),
		slog.String("ua", event.UserAgent),
		slog.String("country", event.Country),
		slog.String("city", event.City),
		slog.String("agent_type", string(event.AgentType)),
		slog.Int("is_ai", event.IsAI),
	)
	return nil
}

func post(ctx context.Context, client *http.Client, sink, target string, body []byte, headers http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vv := range headers {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s sink: %w", sink, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Sink: sink, StatusCode: resp.StatusCode}
	}
	return nil
}
