// Package observability provides the metrics and tracing plumbing around the
// hierarchy core: an OpenTelemetry meter exported to Prometheus, an OTLP
// tracer, and the Instrumentation hook the coordinator calls per operation.
package observability

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"navi/internal/hierarchy"
)

// MetricsCollector owns the hierarchy metrics.
type MetricsCollector struct {
	meter metric.Meter

	sessionsSpawned  metric.Int64Counter
	escalations      metric.Int64Counter
	resolutions      metric.Int64Counter
	deliveries       metric.Int64Counter
	archives         metric.Int64Counter
	decisionsLogged  metric.Int64Counter
	artifactsLogged  metric.Int64Counter
	sessionsActive   metric.Int64UpDownCounter
	operationSeconds metric.Float64Histogram
}

// NewMetricsCollector creates the collector. When enabled is false every
// method is a no-op, so call sites never branch.
func NewMetricsCollector(enabled bool) (*MetricsCollector, error) {
	if !enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("navi")

	m := &MetricsCollector{meter: meter}
	for _, def := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.sessionsSpawned, "navi.sessions.spawned.total", "Sessions created, root and child", "{session}"},
		{&m.escalations, "navi.escalations.total", "Escalations raised, including forwarded ones", "{escalation}"},
		{&m.resolutions, "navi.escalations.resolved.total", "Escalations resolved, by action", "{resolution}"},
		{&m.deliveries, "navi.deliveries.total", "Sessions reaching delivered or failed", "{session}"},
		{&m.archives, "navi.archives.total", "Sessions archived, including cascades", "{session}"},
		{&m.decisionsLogged, "navi.ledger.decisions.total", "Decisions appended to tree ledgers", "{decision}"},
		{&m.artifactsLogged, "navi.ledger.artifacts.total", "Artifacts appended to tree ledgers", "{artifact}"},
	} {
		counter, cerr := meter.Int64Counter(def.name,
			metric.WithDescription(def.desc), metric.WithUnit(def.unit))
		if cerr != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.name, cerr)
		}
		*def.dst = counter
	}

	m.sessionsActive, err = meter.Int64UpDownCounter(
		"navi.sessions.active",
		metric.WithDescription("Sessions currently working, waiting, or blocked"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sessions_active gauge: %w", err)
	}

	m.operationSeconds, err = meter.Float64Histogram(
		"navi.operation.duration",
		metric.WithDescription("Coordinator operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create operation_duration histogram: %w", err)
	}

	return m, nil
}

// Handler returns the Prometheus scrape handler.
func (m *MetricsCollector) Handler() http.Handler {
	return promclient.Handler()
}

// OnEvent updates counters from hierarchy events. Attached to the Notifier so
// metric bookkeeping never leaks into protocol code.
func (m *MetricsCollector) OnEvent(event hierarchy.Event) {
	if m.sessionsSpawned == nil {
		return
	}
	ctx := context.Background()
	switch e := event.(type) {
	case *hierarchy.SessionSpawnedEvent:
		m.sessionsSpawned.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("root", e.ParentSessionID == ""),
		))
		m.sessionsActive.Add(ctx, 1)
	case *hierarchy.SessionEscalatedEvent:
		m.escalations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(e.Escalation.Type)),
			attribute.Bool("forwarded", e.ForwardedFrom != ""),
		))
	case *hierarchy.SessionEscalationResolvedEvent:
		m.resolutions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(e.Action)),
		))
	case *hierarchy.SessionStatusChangedEvent:
		// The active gauge follows the state machine: it drops exactly when a
		// session leaves the working/waiting/blocked set.
		if e.From.IsActive() && !e.To.IsActive() {
			m.sessionsActive.Add(ctx, -1)
		}
	case *hierarchy.SessionDeliveredEvent:
		m.deliveries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(e.FinalStatus)),
			attribute.String("type", string(e.Deliverable.Type)),
		))
	case *hierarchy.SessionArchivedEvent:
		m.archives.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("cascade", e.Cascade),
		))
	case *hierarchy.SessionDecisionLoggedEvent:
		m.decisionsLogged.Add(ctx, 1)
	case *hierarchy.SessionArtifactCreatedEvent:
		m.artifactsLogged.Add(ctx, 1)
	}
}

// RecordOperation records one coordinator operation's duration and outcome.
func (m *MetricsCollector) RecordOperation(ctx context.Context, op string, seconds float64, err error) {
	if m.operationSeconds == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operationSeconds.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	))
}
