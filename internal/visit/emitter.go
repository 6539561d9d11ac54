package visit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/agentlens/internal/detect"
	"github.com/ppiankov/agentlens/internal/metrics"
)

const tracerName = "github.com/ppiankov/agentlens/internal/visit"

// ShouldTrack reports whether a request with verdict v produces an event.
func ShouldTrack(v detect.Verdict, cfg SinkConfig) bool {
	return v.IsAgent || cfg.TrackAll
}

// Emitter delivers visit events to the sink chosen by the active config.
// Delivery is attempted once; failures are logged and dropped.
type Emitter struct {
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEmitter creates an Emitter. m may be nil.
func NewEmitter(client *http.Client, logger *slog.Logger, m *metrics.Metrics) *Emitter {
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return &Emitter{client: client, logger: logger, metrics: m}
}

// Emit sends event using cfg. It never returns an error and never panics on
// delivery failures.
func (e *Emitter) Emit(ctx context.Context, event Event, cfg SinkConfig) {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	sink := NewSink(cfg, e.client, e.logger)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "visit.emit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agentlens.sink", sink.Name()),
			attribute.String("agentlens.agent_type", string(event.AgentType)),
			attribute.String("agentlens.task_id", TaskID(ctx)),
		),
	)
	defer span.End()

	start := time.Now()
	err := sink.Send(ctx, event)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		e.logger.Warn("visit delivery failed",
			slog.String("sink", sink.Name()),
			slog.String("agent_type", string(event.AgentType)),
			slog.String("task_id", TaskID(ctx)),
			slog.Any("error", err),
		)
		e.metrics.ObserveDelivery(sink.Name(), metrics.ResultError, elapsed)
		return
	}

	e.logger.Debug("visit delivered",
		slog.String("sink", sink.Name()),
		slog.String("agent_type", string(event.AgentType)),
		slog.String("task_id", TaskID(ctx)),
		slog.Duration("elapsed", elapsed),
	)
	e.metrics.ObserveDelivery(sink.Name(), metrics.ResultOK, elapsed)
}
