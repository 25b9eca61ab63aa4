package alerts

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/udp-bridge/domain"
)

type SOCAlertClient struct {
	config     AlertClientConfig
	httpClient *http.Client
}

type AlertClientConfig struct {
	SOC    SOCConfig
	App    AppConfig
	Device DeviceConfig
	Dev    bool
}

type SOCConfig struct {
	Enabled  bool
	Endpoint string
	Timeout  int
}

type AppConfig struct {
	Name    string
	Version string
}

type DeviceConfig struct {
	DeviceID string
	ModuleID string
}

type AlertPayload struct {
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details"`
	Timestamp string                 `json:"timestamp"`
}

func NewSOCAlertClient(config AlertClientConfig) *SOCAlertClient {
	timeout := time.Duration(config.SOC.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &SOCAlertClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SendDiagnosticAlert raises an alert for a diagnostic event
func (client *SOCAlertClient) SendDiagnosticAlert(ctx context.Context, ev domain.DiagnosticEvent) error {
	return client.sendAlert(ctx, ev.Severity, "Diagnostic "+ev.Code, ev.Message, map[string]interface{}{
		"code":      ev.Code,
		"log_level": int(ev.Severity),
		"device_id": client.config.Device.DeviceID,
		"module_id": client.config.Device.ModuleID,
	})
}

func (client *SOCAlertClient) sendAlert(ctx context.Context, severity domain.Severity, title, message string, details map[string]interface{}) error {
	if !client.config.SOC.Enabled {
		if client.config.Dev {
			log.Infof("SOC Alert [%s]: %s - %s", severity, title, message)
		}
		return nil
	}

	if client.config.SOC.Endpoint == "" {
		return errors.New("SOC endpoint not configured")
	}

	payload := AlertPayload{
		Service:   client.config.App.Name,
		Version:   client.config.App.Version,
		Severity:  socSeverity(severity),
		Title:     title,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	jsonData, err := sonic.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.config.SOC.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return errors.Wrap(err, "failed to create alert request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", client.config.App.Name, client.config.App.Version))

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send alert")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Errorf("SOC alert request failed with status %d", resp.StatusCode)
	}

	log.Debugf("SOC alert sent successfully: %s", title)
	return nil
}

func socSeverity(s domain.Severity) string {
	switch {
	case s >= domain.SeverityCritical:
		return "critical"
	case s >= domain.SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}
