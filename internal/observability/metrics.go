// Package observability provides OpenTelemetry instrumentation for
// tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a
// Prometheus exporter. It returns the HTTP handler for the /metrics
// endpoint and a shutdown function to be called on application exit.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// MessageMetrics counts broker message outcomes per type code.
type MessageMetrics struct {
	Consumed metric.Int64Counter
	Aborted  metric.Int64Counter
	Failed   metric.Int64Counter
}

// NewMessageMetrics registers the message counters on the global meter
// provider.
func NewMessageMetrics() (*MessageMetrics, error) {
	meter := otel.Meter("simwatch/mq")

	consumed, err := meter.Int64Counter("mq.messages.consumed",
		metric.WithDescription("Messages consumed from the broker"))
	if err != nil {
		return nil, err
	}
	aborted, err := meter.Int64Counter("mq.messages.aborted",
		metric.WithDescription("Messages dropped before or during pipeline processing"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("mq.messages.failed",
		metric.WithDescription("Messages whose pipeline raised an unexpected fault"))
	if err != nil {
		return nil, err
	}

	return &MessageMetrics{Consumed: consumed, Aborted: aborted, Failed: failed}, nil
}

// TypeCode returns the metric attribute carrying a message type code.
func TypeCode(code string) attribute.KeyValue {
	return attribute.String("type_code", code)
}
