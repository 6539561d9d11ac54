package visit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type taskIDKey struct{}

// TaskID returns the id of the background task running with ctx, if any.
func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}

// Tasks runs work after the response path has moved on. Each call to Go
// spawns one goroutine; there is no queue and no backpressure on callers.
type Tasks struct {
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewTasks creates a runner whose tasks are each bounded by timeout.
func NewTasks(logger *slog.Logger, timeout time.Duration) *Tasks {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tasks{logger: logger, timeout: timeout}
}

// Go starts fn in the background and returns immediately. fn gets a context
// that keeps parent's values but not its cancellation, so a finished request
// does not abort the task. Panics are recovered and logged.
func (t *Tasks) Go(parent context.Context, name string, fn func(ctx context.Context)) {
	t.GoTimeout(parent, name, t.timeout, fn)
}

// GoTimeout is Go with a per-task timeout. A non-positive timeout uses the
// runner's default.
func (t *Tasks) GoTimeout(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context)) {
	if timeout <= 0 {
		timeout = t.timeout
	}
	id := uuid.NewString()
	ctx := context.WithValue(context.WithoutCancel(parent), taskIDKey{}, id)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("background task panicked",
					slog.String("task", name),
					slog.String("task_id", id),
					slog.Any("panic", r),
				)
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until every started task has returned or ctx is done.
// Tasks still running when ctx ends are abandoned.
func (t *Tasks) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.logger.Warn("abandoning in-flight background tasks", slog.Any("error", ctx.Err()))
		return ctx.Err()
	}
}
