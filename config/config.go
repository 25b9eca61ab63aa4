package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/udp-bridge/domain"
)

const (
	DefaultListeningPort = 11001
	DefaultPollInterval  = 2 * time.Second
)

type Config struct {
	App          App           `mapstructure:"app"`
	Device       Device        `mapstructure:"device"`
	Logging      LoggingConfig `mapstructure:"logging"`
	Server       Server        `mapstructure:"server"`
	UDP          UDP           `mapstructure:"udp"`
	Diagnostics  Diagnostics   `mapstructure:"diagnostics"`
	Bus          Bus           `mapstructure:"bus"`
	SOC          SOCAlert      `mapstructure:"soc"`
	Otel         Otel          `mapstructure:"otel"`
	Housekeeping Housekeeping  `mapstructure:"housekeeping"`
	Dev          bool          `mapstructure:"dev"`
}

type App struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Device carries the edge identity; it is informational only
type Device struct {
	DeviceID string `mapstructure:"device_id"`
	ModuleID string `mapstructure:"module_id"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Server struct {
	ApiPort int `mapstructure:"api_port"`
}

// UDP holds listener settings. Port is the default listening port; the live
// value can be changed through desired configuration.
//
// PollIntervalMs must stay below the sender's publish interval.
type UDP struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	ReadBufferSizeBytes int    `mapstructure:"read_buffer_size_bytes"`
	PollIntervalMs      int    `mapstructure:"poll_interval_ms"`
	QueueSize           int    `mapstructure:"queue_size"`
	Workers             int    `mapstructure:"workers"`
}

type Diagnostics struct {
	MinimumSeverity string `mapstructure:"minimum_severity"`
}

type Bus struct {
	Driver            string `mapstructure:"driver"` // nats or memory
	URL               string `mapstructure:"url"`
	ClientName        string `mapstructure:"client_name"`
	Token             string `mapstructure:"token"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	PrimarySubject    string `mapstructure:"primary_subject"`
	DiagnosticSubject string `mapstructure:"diagnostic_subject"`
	PublishTimeoutMs  int    `mapstructure:"publish_timeout_ms"`
	ConfirmPublish    bool   `mapstructure:"confirm_publish"`
	MaxReconnects     int    `mapstructure:"max_reconnects"`
	ReconnectWaitSec  int    `mapstructure:"reconnect_wait_seconds"`
	Twin              Twin   `mapstructure:"twin"`
}

// Twin locates the desired/reported configuration documents
type Twin struct {
	Enabled     bool   `mapstructure:"enabled"`
	Bucket      string `mapstructure:"bucket"`
	DesiredKey  string `mapstructure:"desired_key"`
	ReportedKey string `mapstructure:"reported_key"`
}

type SOCAlert struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Timeout  int    `mapstructure:"timeout"`
}

type Otel struct {
	Enabled               bool   `mapstructure:"enabled"`
	Endpoint              string `mapstructure:"endpoint"`
	ServiceName           string `mapstructure:"service_name"`
	ScrapeIntervalSeconds int    `mapstructure:"scrapeIntervalseconds"`
}

type Housekeeping struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"intervalseconds"`
}

// LoadConfig reads cfgFile, then environment variables with envPrefix, then
// any flags explicitly set on cmd. cmd may be nil.
func LoadConfig(cmd *cobra.Command, cfgFile, envPrefix string, cfg *Config) error {
	if cfgFile == "" {
		cfgFile = "config.yaml"
	}

	k := koanf.New(".")

	err := k.Load(file.Provider(cfgFile), yaml.Parser())
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", cfgFile)
	}

	keys := envKeys()
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if key, ok := keys[name]; ok {
			return key
		}
		return strings.Replace(name, "_", ".", -1)
	}), nil); err != nil {
		return errors.Wrapf(err, "error loading config from env")
	}

	if cmd != nil {
		if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
			return errors.Wrap(err, "error loading config from flags")
		}
	}

	err = k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "mapstructure"})
	if err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s", cfgFile)
	}

	cfg.SetDefaults()

	return cfg.Validate()
}

// envKeys maps the env form of every config key (udp_poll_interval_ms) to
// its koanf path (udp.poll_interval_ms). Keys may themselves contain '_', so
// the separator cannot be recovered by string replacement alone.
func envKeys() map[string]string {
	keys := map[string]string{}
	collectKeys(reflect.TypeOf(Config{}), "", keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys map[string]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			collectKeys(field.Type, path, keys)
			continue
		}
		keys[strings.ReplaceAll(path, ".", "_")] = path
	}
}

// SetDefaults fills in every unset field
func (cfg *Config) SetDefaults() {
	if cfg.App.Name == "" {
		cfg.App.Name = "udp-bridge"
	}

	if cfg.Device.DeviceID == "" {
		cfg.Device.DeviceID = os.Getenv("IOTEDGE_DEVICEID")
	}
	if cfg.Device.ModuleID == "" {
		cfg.Device.ModuleID = os.Getenv("IOTEDGE_MODULEID")
	}

	if cfg.Server.ApiPort == 0 {
		cfg.Server.ApiPort = 8080
	}

	if cfg.UDP.Host == "" {
		cfg.UDP.Host = "0.0.0.0"
	}
	if cfg.UDP.Port == 0 {
		cfg.UDP.Port = DefaultListeningPort
	}
	if cfg.UDP.ReadBufferSizeBytes == 0 {
		cfg.UDP.ReadBufferSizeBytes = 65536 // 64KB default
	}
	if cfg.UDP.PollIntervalMs == 0 {
		cfg.UDP.PollIntervalMs = int(DefaultPollInterval / time.Millisecond)
	}
	if cfg.UDP.QueueSize == 0 {
		cfg.UDP.QueueSize = 1000
	}
	if cfg.UDP.Workers == 0 {
		cfg.UDP.Workers = 1
	}

	if cfg.Diagnostics.MinimumSeverity == "" {
		cfg.Diagnostics.MinimumSeverity = domain.SeverityWarning.String()
	}

	if cfg.Bus.Driver == "" {
		cfg.Bus.Driver = "nats"
	}
	if cfg.Bus.URL == "" {
		cfg.Bus.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Bus.ClientName == "" {
		cfg.Bus.ClientName = cfg.App.Name
	}
	if cfg.Bus.PrimarySubject == "" {
		cfg.Bus.PrimarySubject = "udp.bridge.events"
	}
	if cfg.Bus.DiagnosticSubject == "" {
		cfg.Bus.DiagnosticSubject = "udp.bridge.diagnostics"
	}
	if cfg.Bus.PublishTimeoutMs == 0 {
		cfg.Bus.PublishTimeoutMs = 5000
	}
	if cfg.Bus.MaxReconnects == 0 {
		cfg.Bus.MaxReconnects = -1 // reconnect forever
	}
	if cfg.Bus.ReconnectWaitSec == 0 {
		cfg.Bus.ReconnectWaitSec = 2
	}
	if cfg.Bus.Twin.Bucket == "" {
		cfg.Bus.Twin.Bucket = "udp-bridge-twin"
	}
	if cfg.Bus.Twin.DesiredKey == "" {
		cfg.Bus.Twin.DesiredKey = "desired"
	}
	if cfg.Bus.Twin.ReportedKey == "" {
		cfg.Bus.Twin.ReportedKey = "reported"
	}

	if cfg.Otel.ServiceName == "" {
		cfg.Otel.ServiceName = cfg.App.Name
	}
	if cfg.Otel.ScrapeIntervalSeconds == 0 {
		cfg.Otel.ScrapeIntervalSeconds = 15
	}

	if cfg.Housekeeping.IntervalSeconds == 0 {
		cfg.Housekeeping.IntervalSeconds = 60
	}
}

// Validate rejects settings the bridge cannot start with
func (cfg *Config) Validate() error {
	if cfg.UDP.Port < 1 || cfg.UDP.Port > 65535 {
		return errors.Errorf("udp.port %d out of range", cfg.UDP.Port)
	}
	if cfg.UDP.PollIntervalMs < 0 {
		return errors.Errorf("udp.poll_interval_ms must be positive, got %d", cfg.UDP.PollIntervalMs)
	}
	if cfg.UDP.QueueSize < 0 || cfg.UDP.Workers < 0 {
		return errors.New("udp.queue_size and udp.workers must be positive")
	}
	if _, err := cfg.MinimumSeverity(); err != nil {
		return errors.Wrap(err, "diagnostics.minimum_severity")
	}
	switch cfg.Bus.Driver {
	case "nats", "memory":
	default:
		return errors.Errorf("unknown bus.driver %q", cfg.Bus.Driver)
	}
	return nil
}

// MinimumSeverity parses the configured default diagnostic threshold
func (cfg *Config) MinimumSeverity() (domain.Severity, error) {
	return domain.ParseSeverity(cfg.Diagnostics.MinimumSeverity)
}

func (cfg *Config) GetPollInterval() time.Duration {
	return time.Duration(cfg.UDP.PollIntervalMs) * time.Millisecond
}

func (cfg *Config) GetPublishTimeout() time.Duration {
	return time.Duration(cfg.Bus.PublishTimeoutMs) * time.Millisecond
}

func (cfg *Config) GetReconnectWait() time.Duration {
	return time.Duration(cfg.Bus.ReconnectWaitSec) * time.Second
}

func (cfg *Config) GetHousekeepingInterval() time.Duration {
	return time.Duration(cfg.Housekeeping.IntervalSeconds) * time.Second
}
