package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("alert_type", "usage_amount"),
		attribute.String("queue", "subscription"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "org_id" {
			t.Fatalf("expected org_id to be dropped")
		}
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.RecordActivity(context.Background(), "subscription", false)
	m.RecordTriggered(context.Background(), "usage_amount", 2)
	m.RecordNotificationRelayed(context.Background(), "nats", "sent")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordTriggered(context.Background(), "wallet_balance_amount", 1)
}
