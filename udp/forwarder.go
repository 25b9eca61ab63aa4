package udp

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/udp-bridge/bus"
	"github.com/n0needt0/goodies/udp-bridge/config"
	"github.com/n0needt0/goodies/udp-bridge/domain"
	"github.com/n0needt0/goodies/udp-bridge/services"
)

// Alerter raises an out-of-band alert for critical diagnostics
type Alerter interface {
	SendDiagnosticAlert(ctx context.Context, ev domain.DiagnosticEvent) error
}

// Forwarder turns datagrams and diagnostics into bus messages. It never
// retries: a failed publish is logged, counted and the item is gone.
type Forwarder struct {
	services  *services.Services
	config    *config.Config
	publisher bus.Publisher
	alerter   Alerter
}

// NewForwarder creates a new forwarder. alerter may be nil.
func NewForwarder(services *services.Services, cfg *config.Config, publisher bus.Publisher, alerter Alerter) *Forwarder {
	return &Forwarder{
		services:  services,
		config:    cfg,
		publisher: publisher,
		alerter:   alerter,
	}
}

// OnDatagram publishes the datagram on the primary channel
func (f *Forwarder) OnDatagram(ctx context.Context, d domain.IngestedDatagram) error {
	data, err := sonic.Marshal(d.Event())
	if err != nil {
		f.countForwardingError(ctx)
		return errors.Wrap(err, "encode datagram event")
	}

	msg := bus.Message{
		Data: data,
		Headers: map[string]string{
			bus.HeaderContentType:     bus.ContentTypeJSON,
			bus.HeaderContentEncoding: bus.ContentEncodingUTF8,
			bus.HeaderMessageType:     bus.MessageTypeDatagram,
		},
	}

	if err := f.publisher.Publish(ctx, f.config.Bus.PrimarySubject, msg); err != nil {
		f.countForwardingError(ctx)
		log.Errorf("failed to forward datagram from %s:%d: %v", d.SourceAddress, d.SourcePort, err)
		return err
	}

	f.services.BridgeStats.DatagramsForwarded.Add(1)
	services.Add(ctx, f.services.Metrics.DatagramsForwarded, 1)
	log.Debugf("forwarded datagram from %s:%d (%d bytes)", d.SourceAddress, d.SourcePort, len(data))
	return nil
}

func (f *Forwarder) countForwardingError(ctx context.Context) {
	f.services.BridgeStats.ForwardingErrors.Add(1)
	services.Add(ctx, f.services.Metrics.ForwardingErrors, 1)
}

// OnDiagnostic publishes ev on the diagnostic channel when its severity meets
// the threshold in effect right now. It reports whether ev was published.
func (f *Forwarder) OnDiagnostic(ctx context.Context, ev domain.DiagnosticEvent) (bool, error) {
	minimum := f.services.Runtime.MinimumSeverity()
	if !ev.Severity.AtLeast(minimum) {
		f.services.BridgeStats.DiagnosticsSuppressed.Add(1)
		services.Add(ctx, f.services.Metrics.DiagnosticsSuppressed, 1)
		log.Debugf("diagnostic %s (%s) below threshold %s, not sent: %s", ev.Code, ev.Severity, minimum, ev.Message)
		return false, nil
	}

	data, err := sonic.Marshal(ev.Payload())
	if err != nil {
		return false, errors.Wrap(err, "encode diagnostic event")
	}

	msg := bus.Message{
		Data: data,
		Headers: map[string]string{
			bus.HeaderContentType:     bus.ContentTypeJSON,
			bus.HeaderContentEncoding: bus.ContentEncodingUTF8,
			bus.HeaderMessageType:     bus.MessageTypeDiagnostic,
		},
	}

	if err := f.publisher.Publish(ctx, f.config.Bus.DiagnosticSubject, msg); err != nil {
		f.services.BridgeStats.DiagnosticErrors.Add(1)
		return false, errors.Wrapf(err, "publish diagnostic %s", ev.Code)
	}

	f.services.BridgeStats.DiagnosticsPublished.Add(1)
	services.Add(ctx, f.services.Metrics.DiagnosticsPublished, 1)
	log.Infof("diagnostic message %s with size %d bytes sent", ev.Code, msg.Size())
	return true, nil
}

// Emit sends ev on a best-effort basis. Failures are logged and never
// reported as diagnostics themselves.
func (f *Forwarder) Emit(ctx context.Context, ev domain.DiagnosticEvent) {
	ctx, cancel := context.WithTimeout(ctx, f.publishTimeout())
	defer cancel()

	if _, err := f.OnDiagnostic(ctx, ev); err != nil {
		log.Errorf("failed to send diagnostic %s: %v", ev.Code, err)
	}

	if f.alerter != nil && ev.Severity.AtLeast(domain.SeverityCritical) {
		if err := f.alerter.SendDiagnosticAlert(ctx, ev); err != nil {
			log.Errorf("failed to send SOC alert for diagnostic %s: %v", ev.Code, err)
		}
	}
}

func (f *Forwarder) publishTimeout() time.Duration {
	if timeout := f.config.GetPublishTimeout(); timeout > 0 {
		return timeout
	}
	return 5 * time.Second
}
