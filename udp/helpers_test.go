package udp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/udp-bridge/bus"
	"github.com/n0needt0/goodies/udp-bridge/config"
	"github.com/n0needt0/goodies/udp-bridge/services"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.UDP.Host = "127.0.0.1"
	cfg.UDP.PollIntervalMs = 50
	cfg.Bus.Driver = "memory"
	cfg.Bus.PublishTimeoutMs = 1000
	return cfg
}

func testServices(t *testing.T, cfg *config.Config) *services.Services {
	t.Helper()
	svc, err := services.NewServices(cfg)
	require.NoError(t, err)
	return svc
}

func newTestForwarder(t *testing.T) (*Forwarder, *services.Services, *bus.MemoryBus) {
	t.Helper()
	cfg := testConfig()
	svc := testServices(t, cfg)
	mem := bus.NewMemoryBus()
	return NewForwarder(svc, cfg, mem, nil), svc, mem
}
