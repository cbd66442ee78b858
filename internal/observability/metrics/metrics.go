package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes domain-level OTLP instruments.
type Metrics struct {
	activitiesRecorded   metric.Int64Counter
	alertsTriggered      metric.Int64Counter
	thresholdsCrossed    metric.Int64Counter
	notificationsRelayed metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the alerting instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "railzway-alerts"
	}
	meter := provider.Meter(name)

	activitiesRecorded, err := meter.Int64Counter("alerting_activities_recorded_total")
	if err != nil {
		return nil, err
	}
	alertsTriggered, err := meter.Int64Counter("alerting_alerts_triggered_total")
	if err != nil {
		return nil, err
	}
	thresholdsCrossed, err := meter.Int64Counter("alerting_thresholds_crossed_total")
	if err != nil {
		return nil, err
	}
	notificationsRelayed, err := meter.Int64Counter("alerting_notifications_relayed_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		activitiesRecorded:   activitiesRecorded,
		alertsTriggered:      alertsTriggered,
		thresholdsCrossed:    thresholdsCrossed,
		notificationsRelayed: notificationsRelayed,
	}, nil
}

// RecordActivity counts activity signals by queue, including coalesced ones.
func (m *Metrics) RecordActivity(ctx context.Context, queue string, coalesced bool) {
	if m == nil {
		return
	}
	outcome := "inserted"
	if coalesced {
		outcome = "coalesced"
	}
	attrs := FilterAttributes(
		attribute.String("queue", strings.TrimSpace(queue)),
		attribute.String("outcome", outcome),
	)
	m.activitiesRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTriggered counts triggered alerts and the thresholds they carry.
func (m *Metrics) RecordTriggered(ctx context.Context, alertType string, crossed int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("alert_type", strings.TrimSpace(alertType)))...)
	m.alertsTriggered.Add(ctx, 1, attrs)
	m.thresholdsCrossed.Add(ctx, int64(crossed), attrs)
}

// RecordNotificationRelayed counts outbox events handed to the publisher.
func (m *Metrics) RecordNotificationRelayed(ctx context.Context, publisher, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("publisher", strings.TrimSpace(publisher)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.notificationsRelayed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// org_id is deliberately absent: tenants are unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"queue":      {},
	"outcome":    {},
	"alert_type": {},
	"publisher":  {},
	"status":     {},
	"reason":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
