package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentlens/internal/admin"
	"github.com/ppiankov/agentlens/internal/config"
	"github.com/ppiankov/agentlens/internal/intercept"
	"github.com/ppiankov/agentlens/internal/metrics"
	"github.com/ppiankov/agentlens/internal/telemetry"
)

var (
	serveConfig   string
	serveListen   string
	serveAdmin    string
	serveUpstream string
	serveTrackAll bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to config YAML (default: ~/.agentlens/config.yaml)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Proxy listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveAdmin, "admin", "", "Admin listen address for /healthz and /metrics; \"off\" disables")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "Origin URL to forward requests to (overrides config)")
	serveCmd.Flags().BoolVar(&serveTrackAll, "track-all", false, "Report human traffic as well as agents")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the classifying reverse proxy",
	Long: "Forwards every request unchanged to the upstream origin. Requests that look\n" +
		"like AI coding agents are reported to the configured sink in the background.\n" +
		"The config file is watched and sink settings are hot-reloaded.",
	RunE: runServe,
}

// applyServeFlags overlays explicitly set flags onto cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = serveListen
	}
	if flags.Changed("admin") {
		cfg.AdminListen = serveAdmin
	}
	if flags.Changed("upstream") {
		cfg.Upstream = serveUpstream
	}
	if flags.Changed("track-all") {
		cfg.Sink.TrackAll = serveTrackAll
	}
	if cfg.AdminListen == "off" {
		cfg.AdminListen = ""
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	load := func() (*config.Config, error) {
		cfg, err := config.Load(serveConfig)
		if err != nil {
			return nil, err
		}
		applyServeFlags(cmd, cfg)
		return cfg, nil
	}

	cfg, err := load()
	if err != nil {
		return err
	}

	logger := cfg.Log.Logger(os.Stderr)
	slog.SetDefault(logger)

	tp, err := telemetry.Setup(context.Background(), cfg.Trace, version, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("trace flush failed", slog.Any("error", err))
		}
	}()

	m := metrics.New()
	srv, err := intercept.NewServer(cfg, intercept.Options{
		Logger:  logger,
		Metrics: m,
		Load:    load,
	})
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := serveConfig
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	if reloader, err := intercept.NewReloader(srv, configPath); err != nil {
		logger.Warn("hot-reload disabled", slog.Any("error", err))
	} else {
		go reloader.Run(ctx)
	}

	if cfg.AdminListen != "" {
		adminSrv := admin.NewServer(cfg.AdminListen, srv, m)
		go func() {
			if err := adminSrv.Start(ctx); err != nil {
				logger.Error("admin server failed", slog.Any("error", err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("agentlens listening",
		slog.String("listen", cfg.Listen),
		slog.String("upstream", cfg.Upstream),
		slog.String("admin", cfg.AdminListen),
		slog.String("sink", string(cfg.Sink.Mode())),
		slog.Bool("track_all", cfg.Sink.TrackAll),
		slog.String("trace", cfg.Trace.Exporter),
	)

	return srv.Start(ctx)
}
