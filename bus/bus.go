// Package bus connects the bridge to the message bus: publishing events on
// channels and reading/reporting the desired configuration document.
package bus

import (
	"context"

	"github.com/pkg/errors"
)

const (
	HeaderContentType     = "Content-Type"
	HeaderContentEncoding = "Content-Encoding"
	HeaderMessageType     = "Message-Type"

	ContentTypeJSON       = "application/json"
	ContentEncodingUTF8   = "utf-8"
	MessageTypeDatagram   = "application/datagram-json"
	MessageTypeDiagnostic = "application/diagnostic-json"
)

var ErrClosed = errors.New("bus is closed")

// Message is a payload and its headers
type Message struct {
	Data    []byte
	Headers map[string]string
}

// Size approximates the bytes on the wire, payload plus header text
func (m Message) Size() int {
	size := len(m.Data)
	for k, v := range m.Headers {
		size += len(k) + len(v)
	}
	return size
}

// Publisher sends a message on a channel. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg Message) error
}

// TwinStore holds the desired configuration document and receives the
// reported one.
type TwinStore interface {
	// Desired returns the current desired document, or nil if there is none
	Desired(ctx context.Context) ([]byte, error)
	// WatchDesired registers a watch before returning and delivers every
	// later change of the desired document. The channel closes once ctx is
	// done or the watch ends.
	WatchDesired(ctx context.Context) (<-chan []byte, error)
	// Report merges reported into the reported document
	Report(ctx context.Context, reported map[string]interface{}) error
}
