package udp

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/n0needt0/go-goodies/log"
	pkgerrors "github.com/pkg/errors"

	"github.com/n0needt0/goodies/udp-bridge/config"
	"github.com/n0needt0/goodies/udp-bridge/domain"
	"github.com/n0needt0/goodies/udp-bridge/services"
)

// maxDatagramSize is the largest UDP payload; reads never truncate
const maxDatagramSize = 65535

// Listener states
const (
	StateIdle      = "idle"
	StateListening = "listening"
	StateHalted    = "halted"
	StateStopped   = "stopped"
)

// Listener owns the UDP socket. A receive loop captures datagrams onto a
// bounded queue and worker goroutines hand them to the Forwarder, so a slow
// publish never stalls the socket.
//
// The socket is bound once. A later change of the configured listening port
// is not picked up until the process restarts.
type Listener struct {
	services  *services.Services
	config    *config.Config
	forwarder *Forwarder

	conn       *net.UDPConn
	queue      chan domain.IngestedDatagram
	bufferPool sync.Pool

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	haltOnce sync.Once
	wg       sync.WaitGroup // receive loop
	workers  sync.WaitGroup

	state     atomic.Value // string
	boundPort atomic.Int32
	stopping  atomic.Bool
	err       atomic.Value // error
}

// NewListener creates a new UDP listener
func NewListener(services *services.Services, cfg *config.Config, forwarder *Forwarder) *Listener {
	queueSize := cfg.UDP.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &Listener{
		services:  services,
		config:    cfg,
		forwarder: forwarder,
		queue:     make(chan domain.IngestedDatagram, queueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		bufferPool: sync.Pool{
			New: func() interface{} {
				return make([]byte, maxDatagramSize)
			},
		},
	}
	l.state.Store(StateIdle)

	return l
}

// readBufferSize is the kernel socket buffer, not the per-read buffer
func readBufferSize(cfg *config.Config) int {
	if cfg.UDP.ReadBufferSizeBytes > 0 {
		return cfg.UDP.ReadBufferSizeBytes
	}
	return 65536
}

// Start binds the socket on the currently configured port and starts the
// receive loop and the forwarding workers. A bind failure halts the listener
// and is returned; the caller keeps running without it.
func (l *Listener) Start() error {
	port := l.services.Runtime.ListeningPort()
	addr := &net.UDPAddr{
		IP:   net.ParseIP(l.config.UDP.Host),
		Port: port,
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		err = pkgerrors.Wrapf(err, "failed to listen on UDP %s", net.JoinHostPort(l.config.UDP.Host, strconv.Itoa(port)))
		l.halt(err)
		return err
	}

	if err := conn.SetReadBuffer(readBufferSize(l.config)); err != nil {
		conn.Close()
		err = pkgerrors.Wrapf(err, "failed to set read buffer for %s", addr.String())
		l.halt(err)
		return err
	}

	l.conn = conn
	l.boundPort.Store(int32(conn.LocalAddr().(*net.UDPAddr).Port))
	l.state.Store(StateListening)

	log.Infof("UDP server listening on %s:%d", l.config.UDP.Host, l.BoundPort())

	workers := l.config.UDP.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		l.workers.Add(1)
		go func() {
			defer l.workers.Done()
			l.forwardLoop()
		}()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.receiveLoop(conn)
	}()

	return nil
}

// receiveLoop reads until Stop or a fatal socket error. The read deadline is
// the poll interval, so shutdown is noticed within one interval.
func (l *Listener) receiveLoop(conn *net.UDPConn) {
	pollInterval := l.config.GetPollInterval()
	if pollInterval <= 0 {
		pollInterval = config.DefaultPollInterval
	}

	log.Info("listening for first message")

	for {
		select {
		case <-l.quit:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			if l.stopping.Load() {
				return
			}
			l.halt(pkgerrors.Wrap(err, "set read deadline"))
			return
		}

		buf := l.allocateBuffer()
		readLen, remoteAddr, err := conn.ReadFromUDP(buf)
		receivedAt := time.Now().UTC()

		if err != nil {
			l.deallocateBuffer(buf)

			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			if l.stopping.Load() && isClosedConnError(err) {
				return
			}

			l.halt(pkgerrors.Wrap(err, "UDP receive"))
			return
		}

		datagram := domain.NewIngestedDatagram(buf[:readLen], remoteAddr, receivedAt)
		l.deallocateBuffer(buf)

		l.enqueue(datagram, readLen)
	}
}

// enqueue hands the datagram to the workers without blocking the socket
func (l *Listener) enqueue(d domain.IngestedDatagram, size int) {
	ctx := context.Background()
	stats := l.services.BridgeStats

	stats.DatagramsReceived.Add(1)
	stats.BytesReceived.Add(int64(size))
	stats.Touch(d.ReceivedAt)
	services.Add(ctx, l.services.Metrics.DatagramsReceived, 1)

	log.Debugf("received message: %s coming from '%s:%d'", d.PayloadText, d.SourceAddress, d.SourcePort)

	select {
	case l.queue <- d:
	default:
		stats.DatagramsDropped.Add(1)
		services.Add(ctx, l.services.Metrics.DatagramsDropped, 1)
		log.Warnf("UDP forward queue full, dropping message from %s:%d", d.SourceAddress, d.SourcePort)
	}
}

// forwardLoop runs each datagram through the forwarder until the queue closes
func (l *Listener) forwardLoop() {
	for d := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.forwarder.publishTimeout())
		// errors are logged and counted by the forwarder
		_ = l.forwarder.OnDatagram(ctx, d)
		cancel()
	}
}

// halt stops listening for good after a fatal error and reports it as a
// critical diagnostic. The listener is never restarted.
func (l *Listener) halt(err error) {
	l.haltOnce.Do(func() {
		l.err.Store(err)
		l.state.Store(StateHalted)

		log.Errorf("fatal UDP listener failure: %v", err)

		if l.conn != nil {
			l.conn.Close()
		}

		l.forwarder.Emit(context.Background(), domain.DiagnosticEvent{
			Severity: domain.SeverityCritical,
			Code:     domain.CodeListenerFailure,
			Message:  "UDP listener failure: " + err.Error(),
		})

		log.Error("UDP listener halted")
		close(l.done)
	})
}

// Stop ends polling and waits for queued datagrams to be forwarded
func (l *Listener) Stop() error {
	log.Info("UDP listener shutting down")

	l.stopOnce.Do(func() {
		l.stopping.Store(true)
		close(l.quit)

		if l.conn != nil {
			l.conn.Close()
		}

		l.wg.Wait()
		close(l.queue)
		l.workers.Wait()

		if l.State() != StateHalted {
			l.state.Store(StateStopped)
			l.haltOnce.Do(func() { close(l.done) })
		}
	})

	log.Info("UDP listener shut down gracefully")
	return nil
}

// Done is closed when the receive loop has ended for any reason
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Err returns the fatal error that halted the listener, if any
func (l *Listener) Err() error {
	if err, ok := l.err.Load().(error); ok {
		return err
	}
	return nil
}

func (l *Listener) State() string {
	return l.state.Load().(string)
}

// BoundPort is the port the socket was bound to, 0 if it never was
func (l *Listener) BoundPort() int {
	return int(l.boundPort.Load())
}

func (l *Listener) allocateBuffer() []byte {
	return l.bufferPool.Get().([]byte)
}

func (l *Listener) deallocateBuffer(buf []byte) {
	//lint:ignore SA6002 sync.Pool requires putting back the same type that New() returns
	l.bufferPool.Put(buf)
}

// isClosedConnError checks if the error is due to closed connection
func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return strings.Contains(opErr.Err.Error(), "use of closed network connection")
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
