// Package config loads agentlens settings from a YAML file and the environment.
//
// Precedence, lowest to highest: built-in defaults, the YAML file,
// AGENTLENS_* environment variables. CLI flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/agentlens/internal/telemetry"
	"github.com/ppiankov/agentlens/internal/visit"
)

// Environment variables for non-sink settings. Sink variables live in visit.
const (
	EnvListen        = "AGENTLENS_LISTEN"
	EnvAdminListen   = "AGENTLENS_ADMIN_LISTEN"
	EnvUpstream      = "AGENTLENS_UPSTREAM"
	EnvCountryHeader = "AGENTLENS_GEO_COUNTRY_HEADER"
	EnvCityHeader    = "AGENTLENS_GEO_CITY_HEADER"
	EnvLogLevel      = "AGENTLENS_LOG_LEVEL"
	EnvLogFormat     = "AGENTLENS_LOG_FORMAT"
)

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Config is the full agentlens configuration.
type Config struct {
	Listen      string                `yaml:"listen"`
	AdminListen string                `yaml:"admin_listen"`
	Upstream    string                `yaml:"upstream"`
	Geo         visit.GeoHeaders      `yaml:"geo"`
	Sink        visit.SinkConfig      `yaml:"sink"`
	Log         LogConfig             `yaml:"log"`
	Trace       telemetry.TraceConfig `yaml:"trace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		AdminListen: "127.0.0.1:9090",
		Geo:         visit.DefaultGeoHeaders,
		Sink:        visit.DefaultSinkConfig(),
		Log:         LogConfig{Level: "info", Format: "json"},
		Trace:       telemetry.TraceConfig{Exporter: telemetry.ExporterNone},
	}
}

// DefaultPath returns ~/.agentlens/config.yaml, or "" if the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentlens", "config.yaml")
}

// Load reads path (DefaultPath when empty) and overlays the process
// environment. A missing file yields defaults.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnv(lookup)
	cfg.Sink = cfg.Sink.WithDefaults()
	return cfg, nil
}

// ApplyEnv overlays AGENTLENS_* variables onto c.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvListen, &c.Listen)
	set(EnvAdminListen, &c.AdminListen)
	set(EnvUpstream, &c.Upstream)
	set(EnvCountryHeader, &c.Geo.Country)
	set(EnvCityHeader, &c.Geo.City)
	set(EnvLogLevel, &c.Log.Level)
	set(EnvLogFormat, &c.Log.Format)

	c.Sink.ApplyEnv(lookup)
	c.Trace.ApplyEnv(lookup)
}

// Validate checks the settings needed to run the proxy.
func (c *Config) Validate() error {
	if c.Upstream == "" {
		return errors.New("upstream is required")
	}
	u, err := url.Parse(c.Upstream)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid upstream URL %q: scheme must be http or https", c.Upstream)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid upstream URL %q: missing host", c.Upstream)
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	return c.Trace.Validate()
}

// Logger builds a slog.Logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(l.Level)}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultYAML returns a commented configuration file with default values.
func DefaultYAML() string {
	return `# agentlens configuration
# Environment variables (AGENTLENS_*) override values in this file.

listen: ":8080"
admin_listen: "127.0.0.1:9090"

# Origin that receives every request unchanged.
upstream: "https://docs.example.com"

# Edge-provided visitor location headers.
geo:
  country_header: "CF-IPCountry"
  city_header: "CF-IPCity"

sink:
  # Token-authenticated events API. Takes precedence when token is set.
  analytics:
    token: ""
    url: "https://api.tinybird.co/v0/events"
    datasource: "ai_agent_visits"
  # Plain JSON webhook, used when no analytics token is set.
  webhook:
    url: ""
  # Emit events for human traffic too.
  track_all: false
  timeout: 5s

log:
  level: info
  format: json

# Spans for sink deliveries: none, stdout, or otlp (gRPC collector).
trace:
  exporter: none
  endpoint: ""
`
}
