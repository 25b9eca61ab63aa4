package services

import (
	"github.com/n0needt0/goodies/udp-bridge/config"
	"github.com/n0needt0/goodies/udp-bridge/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	METER = "udp-bridge"
)

// ListenerInfo exposes the listener state to the API without importing it
type ListenerInfo interface {
	BoundPort() int
	State() string
}

// Services holds all service instances and shared state
type Services struct {
	Config      *config.Config
	Runtime     *RuntimeConfig
	BridgeStats *domain.BridgeStats
	OtelMeter   metric.Meter
	Metrics     *Metrics

	// Listener is set once the UDP listener has been created
	Listener ListenerInfo
}

// NewServices creates a new services instance. The runtime configuration
// starts from the configured defaults.
func NewServices(cfg *config.Config) (*Services, error) {
	minimum, err := cfg.MinimumSeverity()
	if err != nil {
		return nil, err
	}

	meter := otel.Meter(METER)

	return &Services{
		Config:      cfg,
		Runtime:     NewRuntimeConfig(cfg.UDP.Port, minimum),
		BridgeStats: domain.NewBridgeStats(),
		OtelMeter:   meter,
		Metrics:     newMetrics(meter),
	}, nil
}

// IsHealthy reports false once the listener has halted
func (s *Services) IsHealthy() bool {
	if s.Listener == nil {
		return true
	}
	return s.Listener.State() != "halted"
}

// GetStats returns current bridge statistics
func (s *Services) GetStats() *domain.BridgeStats {
	return s.BridgeStats
}
