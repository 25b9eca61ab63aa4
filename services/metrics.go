package services

import (
	"context"

	"github.com/n0needt0/go-goodies/log"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the bridge counters exported through the otel meter. With otel
// disabled the global meter is a no-op and recording costs nothing.
type Metrics struct {
	DatagramsReceived     metric.Int64Counter
	DatagramsDropped      metric.Int64Counter
	DatagramsForwarded    metric.Int64Counter
	ForwardingErrors      metric.Int64Counter
	DiagnosticsPublished  metric.Int64Counter
	DiagnosticsSuppressed metric.Int64Counter
	ConfigUpdates         metric.Int64Counter
}

func newMetrics(meter metric.Meter) *Metrics {
	return &Metrics{
		DatagramsReceived:     counter(meter, "udp_bridge.datagrams.received", "Datagrams read from the UDP socket"),
		DatagramsDropped:      counter(meter, "udp_bridge.datagrams.dropped", "Datagrams dropped because the forward queue was full"),
		DatagramsForwarded:    counter(meter, "udp_bridge.datagrams.forwarded", "Datagrams published on the primary channel"),
		ForwardingErrors:      counter(meter, "udp_bridge.forwarding.errors", "Failed primary channel publishes"),
		DiagnosticsPublished:  counter(meter, "udp_bridge.diagnostics.published", "Diagnostics published on the diagnostic channel"),
		DiagnosticsSuppressed: counter(meter, "udp_bridge.diagnostics.suppressed", "Diagnostics below the severity threshold"),
		ConfigUpdates:         counter(meter, "udp_bridge.config.updates", "Desired configuration updates applied"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		log.Errorf("failed to init the metric %s: %v", name, err)
	}
	return c
}

// Add increments c, tolerating a counter that failed to initialize
func Add(ctx context.Context, c metric.Int64Counter, n int64) {
	if c == nil {
		return
	}
	c.Add(ctx, n)
}
