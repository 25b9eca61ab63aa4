package api

import (
	"context"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/n0needt0/goodies/udp-bridge/config"
	"github.com/n0needt0/goodies/udp-bridge/services"
	"github.com/swaggest/usecase"
	"go.opentelemetry.io/otel/metric"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string              `json:"status"`
	Version     string              `json:"version"`
	ServiceName string              `json:"service_name"`
	DeviceID    string              `json:"device_id"`
	ModuleID    string              `json:"module_id"`
	Timestamp   string              `json:"timestamp"`
	UDP         UDPHealthStatus     `json:"udp"`
	Stats       BridgeStatsResponse `json:"stats"`
}

type UDPHealthStatus struct {
	Host           string `json:"host"`
	ConfiguredPort int    `json:"configured_port"`
	BoundPort      int    `json:"bound_port"`
	RestartPending bool   `json:"restart_pending"`
	Status         string `json:"status"`
}

type BridgeStatsResponse struct {
	DatagramsReceived     int64  `json:"datagrams_received"`
	DatagramsDropped      int64  `json:"datagrams_dropped"`
	DatagramsForwarded    int64  `json:"datagrams_forwarded"`
	ForwardingErrors      int64  `json:"forwarding_errors"`
	BytesReceived         int64  `json:"bytes_received"`
	DiagnosticsPublished  int64  `json:"diagnostics_published"`
	DiagnosticsSuppressed int64  `json:"diagnostics_suppressed"`
	DiagnosticErrors      int64  `json:"diagnostic_errors"`
	ConfigUpdates         int64  `json:"config_updates"`
	LastActivity          string `json:"last_activity"`
	UptimeSeconds         int64  `json:"uptime_seconds"`
}

// ConfigResponse represents the current bridge configuration
type ConfigResponse struct {
	App     AppConfig     `json:"app"`
	Runtime RuntimeConfig `json:"runtime"`
	UDP     UDPConfig     `json:"udp"`
	Bus     BusConfig     `json:"bus"`
	SOC     SOCConfig     `json:"soc"`
	Otel    OtelConfig    `json:"otel"`
	Dev     bool          `json:"dev"`
}

type AppConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RuntimeConfig is the live configuration, as changed by desired updates
type RuntimeConfig struct {
	ListeningPort          int    `json:"listeningPort"`
	MinimumSeverity        int    `json:"minimumSeverity"`
	MinimumSeverityName    string `json:"minimumSeverityName"`
	DefaultListeningPort   int    `json:"defaultListeningPort"`
	DefaultMinimumSeverity int    `json:"defaultMinimumSeverity"`
}

type UDPConfig struct {
	Host                string `json:"host"`
	ReadBufferSizeBytes int    `json:"read_buffer_size_bytes"`
	PollIntervalMs      int    `json:"poll_interval_ms"`
	QueueSize           int    `json:"queue_size"`
	Workers             int    `json:"workers"`
}

type BusConfig struct {
	Driver            string `json:"driver"`
	URL               string `json:"url"`
	Token             string `json:"token"`
	PrimarySubject    string `json:"primary_subject"`
	DiagnosticSubject string `json:"diagnostic_subject"`
	TwinEnabled       bool   `json:"twin_enabled"`
	TwinBucket        string `json:"twin_bucket"`
}

type SOCConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	Timeout  int    `json:"timeout"`
}

type OtelConfig struct {
	Enabled               bool   `json:"enabled"`
	Endpoint              string `json:"endpoint"`
	ServiceName           string `json:"service_name"`
	ScrapeIntervalSeconds int    `json:"scrape_interval_seconds"`
}

// API holds the API configuration and services
type API struct {
	Services  *services.Services
	Config    *config.Config
	useMetric func(label, description string) metric.Int64Counter
}

// NewAPI creates a new API instance. useMetric may be nil.
func NewAPI(services *services.Services, conf *config.Config, useMetric func(label, description string) metric.Int64Counter) *API {
	return &API{
		Services:  services,
		Config:    conf,
		useMetric: useMetric,
	}
}

func (api *API) count(ctx context.Context, label, description string) {
	if api.useMetric == nil {
		return
	}
	services.Add(ctx, api.useMetric(label, description), 1)
}

// maskSensitiveValue masks sensitive configuration values
func maskSensitiveValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}

// HealthCheck returns a health check handler
func (api *API) HealthCheck() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *HealthResponse) error {
		api.count(ctx, "api/health", "health endpoint requests")

		cfg := api.Config

		overallStatus := "healthy"
		if !api.Services.IsHealthy() {
			overallStatus = "degraded"
		}

		output.Status = overallStatus
		output.Version = cfg.App.Version
		output.ServiceName = cfg.App.Name
		output.DeviceID = cfg.Device.DeviceID
		output.ModuleID = cfg.Device.ModuleID
		output.Timestamp = time.Now().UTC().Format(time.RFC3339)

		configured := api.Services.Runtime.ListeningPort()
		output.UDP = UDPHealthStatus{
			Host:           cfg.UDP.Host,
			ConfiguredPort: configured,
			Status:         "unknown",
		}
		if l := api.Services.Listener; l != nil {
			output.UDP.BoundPort = l.BoundPort()
			output.UDP.Status = l.State()
			output.UDP.RestartPending = output.UDP.BoundPort != 0 && output.UDP.BoundPort != configured
		}

		output.Stats = api.stats()

		log.Debugf("Health check completed: status=%s", overallStatus)
		return nil
	})

	u.SetTitle("Health Check")
	u.SetDescription("Check the health status of the UDP bridge; a halted listener reports degraded")
	u.SetTags("Health")

	return u
}

// GetStats returns a handler for the processing counters
func (api *API) GetStats() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *BridgeStatsResponse) error {
		api.count(ctx, "api/stats", "stats endpoint requests")
		*output = api.stats()
		return nil
	})

	u.SetTitle("Get Statistics")
	u.SetDescription("Datagram and diagnostic counters since startup")
	u.SetTags("Health")

	return u
}

func (api *API) stats() BridgeStatsResponse {
	stats := api.Services.GetStats()

	lastActivity := ""
	if t := stats.LastActivity(); !t.IsZero() {
		lastActivity = t.Format(time.RFC3339Nano)
	}

	return BridgeStatsResponse{
		DatagramsReceived:     stats.DatagramsReceived.Load(),
		DatagramsDropped:      stats.DatagramsDropped.Load(),
		DatagramsForwarded:    stats.DatagramsForwarded.Load(),
		ForwardingErrors:      stats.ForwardingErrors.Load(),
		BytesReceived:         stats.BytesReceived.Load(),
		DiagnosticsPublished:  stats.DiagnosticsPublished.Load(),
		DiagnosticsSuppressed: stats.DiagnosticsSuppressed.Load(),
		DiagnosticErrors:      stats.DiagnosticErrors.Load(),
		ConfigUpdates:         stats.ConfigUpdates.Load(),
		LastActivity:          lastActivity,
		UptimeSeconds:         stats.UptimeSeconds(),
	}
}

// GetConfig returns a handler for getting current configuration
func (api *API) GetConfig() usecase.Interactor {
	u := usecase.NewInteractor(func(ctx context.Context, input struct{}, output *ConfigResponse) error {
		api.count(ctx, "api/config", "config endpoint requests")

		cfg := api.Config
		runtime := api.Services.Runtime
		snapshot := runtime.Snapshot()

		output.App = AppConfig{
			Name:    cfg.App.Name,
			Version: cfg.App.Version,
		}

		output.Runtime = RuntimeConfig{
			ListeningPort:          snapshot.ListeningPort,
			MinimumSeverity:        int(snapshot.MinimumSeverity),
			MinimumSeverityName:    snapshot.MinimumSeverity.String(),
			DefaultListeningPort:   runtime.DefaultListeningPort(),
			DefaultMinimumSeverity: int(runtime.DefaultMinimumSeverity()),
		}

		output.UDP = UDPConfig{
			Host:                cfg.UDP.Host,
			ReadBufferSizeBytes: cfg.UDP.ReadBufferSizeBytes,
			PollIntervalMs:      cfg.UDP.PollIntervalMs,
			QueueSize:           cfg.UDP.QueueSize,
			Workers:             cfg.UDP.Workers,
		}

		output.Bus = BusConfig{
			Driver:            cfg.Bus.Driver,
			URL:               cfg.Bus.URL,
			Token:             maskSensitiveValue(cfg.Bus.Token),
			PrimarySubject:    cfg.Bus.PrimarySubject,
			DiagnosticSubject: cfg.Bus.DiagnosticSubject,
			TwinEnabled:       cfg.Bus.Twin.Enabled,
			TwinBucket:        cfg.Bus.Twin.Bucket,
		}

		output.SOC = SOCConfig{
			Enabled:  cfg.SOC.Enabled,
			Endpoint: cfg.SOC.Endpoint,
			Timeout:  cfg.SOC.Timeout,
		}

		output.Otel = OtelConfig{
			Enabled:               cfg.Otel.Enabled,
			Endpoint:              cfg.Otel.Endpoint,
			ServiceName:           cfg.Otel.ServiceName,
			ScrapeIntervalSeconds: cfg.Otel.ScrapeIntervalSeconds,
		}

		output.Dev = cfg.Dev

		log.Debugf("Retrieved bridge configuration")
		return nil
	})

	u.SetTitle("Get Bridge Configuration")
	u.SetDescription("Retrieve the static and live configuration (sensitive values are masked)")
	u.SetTags("Configuration")

	return u
}
