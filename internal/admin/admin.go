// Package admin serves operational endpoints on a listener separate from
// the proxied traffic.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ppiankov/agentlens/internal/intercept"
	"github.com/ppiankov/agentlens/internal/metrics"
	"github.com/ppiankov/agentlens/internal/visit"
)

// SettingsSource exposes the proxy's active settings.
type SettingsSource interface {
	Settings() intercept.Settings
}

// configView is the redacted settings document served on /config.
type configView struct {
	Sink          string `json:"sink"`
	TrackAll      bool   `json:"track_all"`
	Datasource    string `json:"datasource,omitempty"`
	AnalyticsURL  string `json:"analytics_url,omitempty"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	CountryHeader string `json:"country_header"`
	CityHeader    string `json:"city_header"`
}

// NewRouter returns the admin routes. m may be nil.
func NewRouter(src SettingsSource, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/config", func(w http.ResponseWriter, _ *http.Request) {
		handleConfig(w, src.Settings())
	}).Methods(http.MethodGet)
	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func handleConfig(w http.ResponseWriter, s intercept.Settings) {
	view := configView{
		Sink:          string(s.Sink.Mode()),
		TrackAll:      s.Sink.TrackAll,
		CountryHeader: s.Geo.Country,
		CityHeader:    s.Geo.City,
	}
	switch s.Sink.Mode() {
	case visit.ModeAnalytics:
		view.Datasource = s.Sink.Analytics.Datasource
		view.AnalyticsURL = s.Sink.Analytics.URL
	case visit.ModeWebhook:
		view.WebhookURL = s.Sink.Webhook.URL
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// Server is the admin HTTP listener.
type Server struct {
	srv *http.Server
}

// NewServer creates an admin server on addr.
func NewServer(addr string, src SettingsSource, m *metrics.Metrics) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(src, m),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
