// Package metrics exposes OpenTelemetry instruments through a Prometheus exporter.
// Recording functions are no-ops until Init has run.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "orchestra"

// Attribute keys
var (
	AttrStatus  = attribute.Key("status")
	AttrOutcome = attribute.Key("outcome")
	AttrEvent   = attribute.Key("event")
	AttrAction  = attribute.Key("action")
)

var (
	mu                sync.Mutex
	initialized       bool
	portAllocations   metric.Int64Counter
	triggerExecutions metric.Int64Counter
	triggerDuration   metric.Float64Histogram
	actionExecutions  metric.Int64Counter
	contextLookups    metric.Int64Counter
	eventsPublished   metric.Int64Counter
	streamConnections metric.Int64UpDownCounter
	reconcileRemovals metric.Int64Counter
)

// WorktreeCountFunc reports the number of worktrees per status
type WorktreeCountFunc func(ctx context.Context) (map[string]int64, error)

// Init installs a MeterProvider with a Prometheus exporter, creates the
// instruments and returns the handler for /metrics. countWorktrees may be nil.
func Init(ctx context.Context, serviceName string, countWorktrees WorktreeCountFunc) (http.Handler, error) {
	mu.Lock()
	defer mu.Unlock()

	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)

	if err := createInstruments(countWorktrees); err != nil {
		return nil, err
	}
	initialized = true
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), nil
}

func createInstruments(countWorktrees WorktreeCountFunc) error {
	m := otelglobal.Meter(meterName)
	var err error

	if portAllocations, err = m.Int64Counter("orchestra_port_allocations_total",
		metric.WithDescription("Port allocation attempts by outcome")); err != nil {
		return err
	}
	if triggerExecutions, err = m.Int64Counter("orchestra_trigger_executions_total",
		metric.WithDescription("Trigger executions by event and status")); err != nil {
		return err
	}
	if triggerDuration, err = m.Float64Histogram("orchestra_trigger_duration_seconds",
		metric.WithDescription("Trigger execution duration in seconds")); err != nil {
		return err
	}
	if actionExecutions, err = m.Int64Counter("orchestra_action_executions_total",
		metric.WithDescription("Action executions by type and status")); err != nil {
		return err
	}
	if contextLookups, err = m.Int64Counter("orchestra_context_lookups_total",
		metric.WithDescription("Context provider lookups by cache outcome")); err != nil {
		return err
	}
	if eventsPublished, err = m.Int64Counter("orchestra_events_published_total",
		metric.WithDescription("Events published on the bus")); err != nil {
		return err
	}
	if streamConnections, err = m.Int64UpDownCounter("orchestra_event_stream_connections",
		metric.WithDescription("Open websocket event streams")); err != nil {
		return err
	}
	if reconcileRemovals, err = m.Int64Counter("orchestra_reconcile_actions_total",
		metric.WithDescription("Orphan reconciliation actions by outcome")); err != nil {
		return err
	}

	if countWorktrees == nil {
		return nil
	}
	gauge, err := m.Int64ObservableGauge("orchestra_worktrees",
		metric.WithDescription("Number of worktrees by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		counts, err := countWorktrees(ctx)
		if err != nil {
			return err
		}
		for status, n := range counts {
			o.ObserveInt64(gauge, n, metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, gauge)
	return err
}

func enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return initialized
}

// RecordPortAllocation records an allocation attempt ("allocated", "exhausted")
func RecordPortAllocation(ctx context.Context, outcome string) {
	if !enabled() {
		return
	}
	portAllocations.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordTriggerExecution records a settled trigger execution
func RecordTriggerExecution(ctx context.Context, event, status string, duration time.Duration) {
	if !enabled() {
		return
	}
	attrs := metric.WithAttributes(AttrEvent.String(event), AttrStatus.String(status))
	triggerExecutions.Add(ctx, 1, attrs)
	triggerDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordAction records one action execution
func RecordAction(ctx context.Context, actionType, status string) {
	if !enabled() {
		return
	}
	actionExecutions.Add(ctx, 1, metric.WithAttributes(AttrAction.String(actionType), AttrStatus.String(status)))
}

// RecordContextLookup records a context cache hit or miss
func RecordContextLookup(ctx context.Context, hit bool) {
	if !enabled() {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	contextLookups.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordEvent records one published event
func RecordEvent(ctx context.Context, name string) {
	if !enabled() {
		return
	}
	eventsPublished.Add(ctx, 1, metric.WithAttributes(AttrEvent.String(name)))
}

// RecordReconcile records one reconciliation action ("purged", "deleted", "errored")
func RecordReconcile(ctx context.Context, outcome string) {
	if !enabled() {
		return
	}
	reconcileRemovals.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// StreamOpened increments the open event stream gauge
func StreamOpened(ctx context.Context) {
	if !enabled() {
		return
	}
	streamConnections.Add(ctx, 1)
}

// StreamClosed decrements the open event stream gauge
func StreamClosed(ctx context.Context) {
	if !enabled() {
		return
	}
	streamConnections.Add(ctx, -1)
}
