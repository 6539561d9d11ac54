// Package intercept is the reverse proxy that sits in front of the origin.
// Every request is forwarded unchanged; agent traffic additionally produces
// a visit event that is delivered in the background.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ppiankov/agentlens/internal/config"
	"github.com/ppiankov/agentlens/internal/detect"
	"github.com/ppiankov/agentlens/internal/metrics"
	"github.com/ppiankov/agentlens/internal/visit"
)

const (
	shutdownTimeout = 5 * time.Second
	drainTimeout    = 5 * time.Second
)

// Settings is the per-request snapshot of reloadable configuration.
type Settings struct {
	Sink visit.SinkConfig
	Geo  visit.GeoHeaders
}

// Options carries the collaborators of a Server. Zero values get defaults.
type Options struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Transport http.RoundTripper              // origin transport, http.DefaultTransport if nil
	Client    *http.Client                   // sink client
	Load      func() (*config.Config, error) // used by Reload
	Now       func() time.Time
}

// Server classifies requests, schedules visit events and forwards traffic.
type Server struct {
	upstream  *url.URL
	transport http.RoundTripper
	settings  atomic.Pointer[Settings]
	emitter   *visit.Emitter
	tasks     *visit.Tasks
	metrics   *metrics.Metrics
	logger    *slog.Logger
	load      func() (*config.Config, error)
	now       func() time.Time
	srv       *http.Server
}

// NewServer creates a proxy for cfg.Upstream listening on cfg.Listen.
func NewServer(cfg *config.Config, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Client == nil {
		opts.Client = visit.NewHTTPClient(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		upstream:  upstream,
		transport: opts.Transport,
		emitter:   visit.NewEmitter(opts.Client, opts.Logger, opts.Metrics),
		tasks:     visit.NewTasks(opts.Logger, cfg.Sink.Timeout),
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		load:      opts.Load,
		now:       opts.Now,
	}
	s.settings.Store(&Settings{Sink: cfg.Sink, Geo: cfg.Geo})

	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start listens and serves until ctx is cancelled, then shuts down, waits
// for in-flight requests and briefly for in-flight visit deliveries.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("proxy shutdown incomplete", slog.Any("error", err))
		}
	}()

	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		// Serve returns once Shutdown starts; in-flight handlers may still be
		// forwarding and scheduling emissions.
		<-shutdownDone
		err = nil
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	s.tasks.Wait(drainCtx)

	return err
}

// Settings returns the active snapshot.
func (s *Server) Settings() Settings {
	return *s.settings.Load()
}

// Reload re-reads configuration and swaps the sink and geo settings,
// including the sink timeout. Listen and upstream changes need a restart.
func (s *Server) Reload() error {
	if s.load == nil {
		return errors.New("reload not configured")
	}
	cfg, err := s.load()
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	if cfg.Upstream != "" && cfg.Upstream != s.upstream.String() {
		s.logger.Warn("upstream change ignored until restart",
			slog.String("active", s.upstream.String()),
			slog.String("configured", cfg.Upstream),
		)
	}
	s.settings.Store(&Settings{Sink: cfg.Sink, Geo: cfg.Geo})
	return nil
}

// ServeHTTP classifies r, hands the visit event to a background task when
// tracked, and forwards r to the origin.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	settings := s.settings.Load()

	verdict := detect.Classify(r.Header)
	s.metrics.ObserveRequest(verdict.Kind.String())

	if visit.ShouldTrack(verdict, settings.Sink) {
		event := visit.NewEvent(r, verdict, settings.Geo, s.now())
		sink := settings.Sink
		s.tasks.GoTimeout(r.Context(), "emit", sink.Timeout, func(ctx context.Context) {
			s.emitter.Emit(ctx, event, sink)
		})
	}

	s.forward(w, r)
}

// forward sends r to the upstream and copies the response back verbatim.
func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	outURL := *s.upstream
	outURL.Path = joinPath(s.upstream.Path, r.URL.Path)
	outURL.RawPath = joinPath(s.upstream.EscapedPath(), r.URL.EscapedPath())
	outURL.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create request: %v", err), http.StatusInternalServerError)
		return
	}
	for k, vv := range r.Header {
		for _, v := range vv {
			outReq.Header.Add(k, v)
		}
	}
	outReq.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		outReq.Body = http.NoBody
	}

	resp, err := s.transport.RoundTrip(outReq)
	if err != nil {
		s.logger.Error("upstream request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		http.Error(w, fmt.Sprintf("upstream error: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)

	if flusher, ok := w.(http.Flusher); ok && strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		io.Copy(flushWriter{w: w, f: flusher}, resp.Body)
		return
	}
	io.Copy(w, resp.Body)
}

func copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
}

// joinPath appends the request path to the upstream base path.
func joinPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		return path
	case path == "":
		return base
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}

// flushWriter flushes after every write so streamed responses are not held.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}
