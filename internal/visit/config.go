package visit

import (
	"strings"
	"time"
)

// Environment variables read by ApplyEnv.
const (
	EnvAnalyticsToken = "AGENTLENS_ANALYTICS_TOKEN"
	EnvAnalyticsURL   = "AGENTLENS_ANALYTICS_URL"
	EnvDatasource     = "AGENTLENS_DATASOURCE"
	EnvWebhookURL     = "AGENTLENS_WEBHOOK_URL"
	EnvTrackAll       = "AGENTLENS_TRACK_ALL"
	EnvSinkTimeout    = "AGENTLENS_SINK_TIMEOUT"
)

const (
	DefaultAnalyticsURL = "https://api.tinybird.co/v0/events"
	DefaultDatasource   = "ai_agent_visits"
	DefaultTimeout      = 5 * time.Second
)

// SinkMode is the delivery strategy selected by a SinkConfig.
type SinkMode string

const (
	ModeAnalytics SinkMode = "analytics"
	ModeWebhook   SinkMode = "webhook"
	ModeLog       SinkMode = "log"
)

// AnalyticsConfig describes a token-authenticated events endpoint that
// ingests into a named datasource.
type AnalyticsConfig struct {
	Token      string `yaml:"token"      json:"-"`
	URL        string `yaml:"url"        json:"url"`
	Datasource string `yaml:"datasource" json:"datasource"`
}

// WebhookConfig is an unauthenticated JSON webhook.
type WebhookConfig struct {
	URL string `yaml:"url" json:"url"`
}

// SinkConfig selects and parameterizes the destination of visit events.
// It is treated as an immutable snapshot once loaded.
type SinkConfig struct {
	Analytics AnalyticsConfig `yaml:"analytics" json:"analytics"`
	Webhook   WebhookConfig   `yaml:"webhook"   json:"webhook"`
	TrackAll  bool            `yaml:"track_all" json:"track_all"`
	Timeout   time.Duration   `yaml:"timeout"   json:"timeout"`
}

// DefaultSinkConfig returns a config that logs events locally.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		Analytics: AnalyticsConfig{
			URL:        DefaultAnalyticsURL,
			Datasource: DefaultDatasource,
		},
		Timeout: DefaultTimeout,
	}
}

// Mode picks the analytics endpoint when a token is present, then the
// webhook, then local logging.
func (c SinkConfig) Mode() SinkMode {
	switch {
	case c.Analytics.Token != "":
		return ModeAnalytics
	case c.Webhook.URL != "":
		return ModeWebhook
	default:
		return ModeLog
	}
}

// ApplyEnv overlays environment values onto c. lookup is usually os.LookupEnv.
// Unparseable durations are ignored.
func (c *SinkConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAnalyticsToken); ok {
		c.Analytics.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAnalyticsURL); ok && v != "" {
		c.Analytics.URL = v
	}
	if v, ok := lookup(EnvDatasource); ok && v != "" {
		c.Analytics.Datasource = v
	}
	if v, ok := lookup(EnvWebhookURL); ok {
		c.Webhook.URL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTrackAll); ok {
		c.TrackAll = Truthy(v)
	}
	if v, ok := lookup(EnvSinkTimeout); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Timeout = d
		}
	}
}

// WithDefaults fills empty fields with their defaults.
func (c SinkConfig) WithDefaults() SinkConfig {
	if c.Analytics.URL == "" {
		c.Analytics.URL = DefaultAnalyticsURL
	}
	if c.Analytics.Datasource == "" {
		c.Analytics.Datasource = DefaultDatasource
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Truthy interprets boolean-like configuration strings.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
