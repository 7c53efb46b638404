// Package observe exports game events as structured OTel log records and
// tracks the per-category failure counters operators watch instead of raw
// stack traces.
package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/urt30plus/urt30t/internal/events"
)

// EventLogger sends every dispatched event as a structured OTel log record.
// It subscribes to the bus with the wildcard kind.
type EventLogger struct {
	logger otellog.Logger
}

func NewEventLogger(logger otellog.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

func (l *EventLogger) HandleEvent(ctx context.Context, ev events.Event) error {
	var r otellog.Record
	r.SetTimestamp(ev.Time)
	r.SetBody(otellog.StringValue(string(ev.Kind)))
	attrs := make([]otellog.KeyValue, 0, len(ev.Fields)+2)
	for k, v := range ev.Fields {
		attrs = append(attrs, otellog.String(k, v))
	}
	if ev.Synthetic {
		attrs = append(attrs, otellog.Bool("synthetic", true))
	}
	if ev.GameTime != "" {
		attrs = append(attrs, otellog.String("game_time", ev.GameTime))
	}
	r.AddAttributes(attrs...)
	l.logger.Emit(ctx, r)
	return nil
}

// Metrics holds the pipeline's failure and throughput counters.
type Metrics struct {
	EventsTotal     metric.Int64Counter
	ParseFailures   metric.Int64Counter
	HandlerFailures metric.Int64Counter
	ControlFailures metric.Int64Counter
	Degraded        metric.Int64Gauge
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.EventsTotal, err = meter.Int64Counter("urt30t.events.total",
		metric.WithDescription("Events dispatched, by kind")); err != nil {
		return nil, fmt.Errorf("events counter: %w", err)
	}
	if m.ParseFailures, err = meter.Int64Counter("urt30t.parse.failures",
		metric.WithDescription("Log lines that failed structural parsing")); err != nil {
		return nil, fmt.Errorf("parse counter: %w", err)
	}
	if m.HandlerFailures, err = meter.Int64Counter("urt30t.handler.failures",
		metric.WithDescription("Handler errors, timeouts and panics")); err != nil {
		return nil, fmt.Errorf("handler counter: %w", err)
	}
	if m.ControlFailures, err = meter.Int64Counter("urt30t.control.failures",
		metric.WithDescription("Failed control channel cycles")); err != nil {
		return nil, fmt.Errorf("control counter: %w", err)
	}
	if m.Degraded, err = meter.Int64Gauge("urt30t.control.degraded",
		metric.WithDescription("1 while the control channel is in degraded mode")); err != nil {
		return nil, fmt.Errorf("degraded gauge: %w", err)
	}
	return m, nil
}

func (m *Metrics) RecordEvent(ctx context.Context, kind events.Kind) {
	m.EventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *Metrics) RecordHandlerFailure(ctx context.Context, handler string) {
	m.HandlerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("handler", handler)))
}
