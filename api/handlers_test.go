package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/udp-bridge/config"
	"github.com/n0needt0/goodies/udp-bridge/domain"
	"github.com/n0needt0/goodies/udp-bridge/services"
)

type fakeListener struct {
	port  int
	state string
}

func (f fakeListener) BoundPort() int { return f.port }
func (f fakeListener) State() string  { return f.state }

func newTestAPI(t *testing.T) (*API, *services.Services) {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.App.Version = "1.0.0"
	cfg.Device.DeviceID = "edge-01"
	cfg.Bus.Token = "s3cr3t-token-value"

	svc, err := services.NewServices(cfg)
	require.NoError(t, err)
	return NewAPI(svc, cfg, nil), svc
}

func TestHealthCheck(t *testing.T) {
	api, svc := newTestAPI(t)
	svc.Listener = fakeListener{port: 11001, state: "listening"}
	svc.BridgeStats.DatagramsReceived.Add(3)
	svc.BridgeStats.Touch(time.Now())

	var out HealthResponse
	require.NoError(t, api.HealthCheck().Interact(context.Background(), struct{}{}, &out))

	assert.Equal(t, "healthy", out.Status)
	assert.Equal(t, "edge-01", out.DeviceID)
	assert.Equal(t, 11001, out.UDP.ConfiguredPort)
	assert.Equal(t, 11001, out.UDP.BoundPort)
	assert.False(t, out.UDP.RestartPending)
	assert.EqualValues(t, 3, out.Stats.DatagramsReceived)
	assert.NotEmpty(t, out.Stats.LastActivity)
}

func TestHealthCheckPortChangePendingRestart(t *testing.T) {
	api, svc := newTestAPI(t)
	svc.Listener = fakeListener{port: 11001, state: "listening"}
	svc.Runtime.SetListeningPort(12000)

	var out HealthResponse
	require.NoError(t, api.HealthCheck().Interact(context.Background(), struct{}{}, &out))

	assert.Equal(t, 12000, out.UDP.ConfiguredPort)
	assert.Equal(t, 11001, out.UDP.BoundPort)
	assert.True(t, out.UDP.RestartPending)
}

func TestHealthCheckHaltedListener(t *testing.T) {
	api, svc := newTestAPI(t)
	svc.Listener = fakeListener{port: 11001, state: "halted"}

	var out HealthResponse
	require.NoError(t, api.HealthCheck().Interact(context.Background(), struct{}{}, &out))
	assert.Equal(t, "degraded", out.Status)
	assert.Equal(t, "halted", out.UDP.Status)
}

func TestGetConfigMasksSecrets(t *testing.T) {
	api, svc := newTestAPI(t)
	svc.Runtime.SetMinimumSeverity(domain.SeverityCritical)

	var out ConfigResponse
	require.NoError(t, api.GetConfig().Interact(context.Background(), struct{}{}, &out))

	assert.Equal(t, "s3cr***alue", out.Bus.Token)
	assert.Equal(t, 4, out.Runtime.MinimumSeverity)
	assert.Equal(t, "Critical", out.Runtime.MinimumSeverityName)
	assert.Equal(t, int(domain.SeverityWarning), out.Runtime.DefaultMinimumSeverity)
	assert.Equal(t, config.DefaultListeningPort, out.Runtime.DefaultListeningPort)
}

func TestRouterServesHealth(t *testing.T) {
	_, svc := newTestAPI(t)
	server := NewAPIServer(svc, svc.Config)

	rec := httptest.NewRecorder()
	server.NewRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out BridgeStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.GreaterOrEqual(t, out.UptimeSeconds, int64(0))
}

func TestMaskSensitiveValue(t *testing.T) {
	assert.Equal(t, "", maskSensitiveValue(""))
	assert.Equal(t, "***", maskSensitiveValue("short"))
	assert.Equal(t, "abcd***mnop", maskSensitiveValue("abcdefghijklmnop"))
}
