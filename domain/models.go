package domain

import (
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// Diagnostic codes identify the site that raised a DiagnosticEvent
const (
	CodeListenerFailure     = "00"
	CodeInvalidConfigValue  = "97"
	CodeAcknowledgeFailed   = "98"
	CodeMalformedConfigData = "99"
)

// IngestedDatagram represents a single UDP datagram captured by the listener
type IngestedDatagram struct {
	ReceivedAt    time.Time
	SourceAddress string
	SourcePort    int
	PayloadText   string
}

// NewIngestedDatagram decodes data as ISO-8859-1 text. The result does not
// reference data, so the caller may reuse the buffer.
func NewIngestedDatagram(data []byte, from *net.UDPAddr, receivedAt time.Time) IngestedDatagram {
	d := IngestedDatagram{
		ReceivedAt:  receivedAt.UTC(),
		PayloadText: DecodePayload(data),
	}
	if from != nil {
		d.SourceAddress = from.IP.String()
		d.SourcePort = from.Port
	}
	return d
}

// DecodePayload maps every byte onto the matching Latin-1 code point.
func DecodePayload(data []byte) string {
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		// every byte has a Latin-1 mapping, this is unreachable in practice
		return string(data)
	}
	return string(text)
}

// Event returns the primary channel payload for the datagram
func (d IngestedDatagram) Event() DatagramEvent {
	return DatagramEvent{
		TimeStamp: d.ReceivedAt.UTC(),
		Address:   d.SourceAddress,
		Port:      d.SourcePort,
		Message:   d.PayloadText,
	}
}

// DiagnosticEvent is a single operational notification
type DiagnosticEvent struct {
	Severity Severity
	Code     string
	Message  string
}

// Payload returns the diagnostic channel payload for the event
func (e DiagnosticEvent) Payload() DiagnosticPayload {
	return DiagnosticPayload{
		LogLevel: e.Severity,
		Code:     e.Code,
		Message:  e.Message,
	}
}

// DatagramEvent is published on the primary channel
type DatagramEvent struct {
	TimeStamp time.Time `json:"timeStamp"`
	Address   string    `json:"address"`
	Port      int       `json:"port"`
	Message   string    `json:"message"`
}

// DiagnosticPayload is published on the diagnostic channel
type DiagnosticPayload struct {
	LogLevel Severity `json:"logLevel"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// BridgeStats represents bridge processing statistics
type BridgeStats struct {
	DatagramsReceived     atomic.Int64
	DatagramsDropped      atomic.Int64
	DatagramsForwarded    atomic.Int64
	ForwardingErrors      atomic.Int64
	BytesReceived         atomic.Int64
	DiagnosticsPublished  atomic.Int64
	DiagnosticsSuppressed atomic.Int64
	DiagnosticErrors      atomic.Int64
	ConfigUpdates         atomic.Int64
	lastActivity          atomic.Int64
	startedAt             time.Time
}

// NewBridgeStats creates stats with the uptime clock started now
func NewBridgeStats() *BridgeStats {
	return &BridgeStats{startedAt: time.Now()}
}

// Touch records activity at t
func (s *BridgeStats) Touch(t time.Time) {
	s.lastActivity.Store(t.UnixNano())
}

// LastActivity returns the last recorded activity or the zero time
func (s *BridgeStats) LastActivity() time.Time {
	ns := s.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// UptimeSeconds returns seconds since the stats were created
func (s *BridgeStats) UptimeSeconds() int64 {
	return int64(time.Since(s.startedAt).Seconds())
}
