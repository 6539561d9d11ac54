package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and reloads the server's sink settings.
type Reloader struct {
	watcher  *fsnotify.Watcher
	server   *Server
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewReloader creates a file watcher for path. The file must exist.
func NewReloader(server *Server, path string) (*Reloader, error) {
	if path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	return &Reloader{
		watcher:  watcher,
		server:   server,
		path:     path,
		debounce: reloadDebounce,
		logger:   server.logger,
	}, nil
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}

func (r *Reloader) reload() {
	if err := r.server.Reload(); err != nil {
		r.logger.Error("hot-reload failed", slog.String("path", r.path), slog.Any("error", err))
		return
	}
	settings := r.server.Settings()
	r.logger.Info("hot-reload: config reloaded",
		slog.String("path", r.path),
		slog.String("sink", string(settings.Sink.Mode())),
		slog.Bool("track_all", settings.Sink.TrackAll),
	)
}
