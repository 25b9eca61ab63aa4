package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/udp-bridge/alerts"
	"github.com/n0needt0/goodies/udp-bridge/api"
	"github.com/n0needt0/goodies/udp-bridge/bus"
	"github.com/n0needt0/goodies/udp-bridge/config"
	"github.com/n0needt0/goodies/udp-bridge/services"
	"github.com/n0needt0/goodies/udp-bridge/twin"
	"github.com/n0needt0/goodies/udp-bridge/udp"
)

var (
	conf      = config.Config{}
	envPrefix = "BRIDGE_"
)

func newRootCommand() *cobra.Command {
	var cfgFilePath string

	cmd := &cobra.Command{
		Use:           "udp-bridge",
		Short:         "Forward UDP datagrams to the message bus",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd, cfgFilePath)
		},
	}

	cmd.Flags().StringVar(&cfgFilePath, "config", "config.yaml", "--config <FILE>")
	cmd.Flags().Int("udp.port", 0, "default UDP listening port")
	cmd.Flags().String("logging.level", "", "log level (debug, info, warn, error)")

	return cmd
}

// Run loads the configuration, wires the bridge and blocks until shutdown
func Run(cmd *cobra.Command, cfgFilePath string) error {
	err := config.LoadConfig(cmd, cfgFilePath, envPrefix, &conf)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	setLogLevel(conf.Logging.Level)

	var otelshutdown func()

	if conf.Otel.Enabled {
		//this initializes global otel provider
		otelshutdown = InitOtelProvider(&conf)
	}

	// Business Logic
	svc, err := services.NewServices(&conf)
	if err != nil {
		return errors.Wrap(err, "failed to create services")
	}

	server := NewServer(svc, &conf)

	if err := server.connectBus(); err != nil {
		return err
	}

	var alerter udp.Alerter
	if conf.SOC.Enabled {
		alerter = alerts.NewSOCAlertClient(alerts.AlertClientConfig{
			SOC: alerts.SOCConfig{
				Enabled:  conf.SOC.Enabled,
				Endpoint: conf.SOC.Endpoint,
				Timeout:  conf.SOC.Timeout,
			},
			App: alerts.AppConfig{
				Name:    conf.App.Name,
				Version: conf.App.Version,
			},
			Device: alerts.DeviceConfig{
				DeviceID: conf.Device.DeviceID,
				ModuleID: conf.Device.ModuleID,
			},
			Dev: conf.Dev,
		})
	}

	forwarder := udp.NewForwarder(svc, &conf, server.Publisher, alerter)

	server.UdpListener = udp.NewListener(svc, &conf, forwarder)
	svc.Listener = server.UdpListener

	if server.TwinStore != nil {
		reconciler := twin.NewReconciler(svc, forwarder)
		server.Syncer = twin.NewSyncer(reconciler, server.TwinStore, forwarder)
		if err := server.Syncer.Start(context.Background()); err != nil {
			log.Errorf("desired configuration sync unavailable: %v", err)
			server.Syncer = nil
		}
	} else {
		log.Info("desired configuration sync disabled; using static configuration")
	}

	log.Infof("device %q module %q: bridging UDP to %s (diagnostics on %s)",
		conf.Device.DeviceID, conf.Device.ModuleID, conf.Bus.PrimarySubject, conf.Bus.DiagnosticSubject)

	// a bind failure is already reported as a critical diagnostic; the
	// process stays up so the API can report the halted listener
	if err := server.UdpListener.Start(); err != nil {
		log.Errorf("UDP listener not running: %v", err)
	}

	server.HttpApi = api.NewAPIServer(svc, &conf)

	//start server
	go server.Start(server.logStats, nil)

	//start api server
	server.HttpApi.Serve(":"+strconv.Itoa(conf.Server.ApiPort), server.HttpApi.NewRouter())

	<-server.stopped

	if conf.Otel.Enabled {
		//cleanup otel
		otelshutdown()
	}

	return nil
}

func setLogLevel(levelStr string) {
	switch strings.ToLower(levelStr) {
	case "debug":
		log.SetMinLogLevel(log.MinLevelDebug)
	case "info":
		log.SetMinLogLevel(log.MinLevelInfo)
	case "warn":
		log.SetMinLogLevel(log.MinLevelWarn)
	case "error":
		log.SetMinLogLevel(log.MinLevelError)
	}
}

// Server provides basic service functions and state common to all service types
type Server struct {
	Config      *config.Config
	Name        string
	quitterC    chan time.Duration // also internal-only
	stopped     chan struct{}
	HttpApi     *api.APIServer
	UdpListener *udp.Listener
	Syncer      *twin.Syncer
	Publisher   bus.Publisher
	TwinStore   bus.TwinStore
	natsClient  *bus.NATSClient
	Services    *services.Services
}

// NewServer creates a new Server
func NewServer(services *services.Services, conf *config.Config) *Server {
	return &Server{
		Config:   conf,
		Name:     conf.App.Name,
		quitterC: make(chan time.Duration),
		stopped:  make(chan struct{}),
		Services: services,
	}
}

// connectBus picks the bus driver. The memory driver keeps everything in
// process and only logs what would have been published.
func (svc *Server) connectBus() error {
	switch svc.Config.Bus.Driver {
	case "memory":
		mem := bus.NewMemoryBus().WithLogging()
		svc.Publisher = mem
		if svc.Config.Bus.Twin.Enabled {
			svc.TwinStore = mem
		}
	default:
		client := bus.NewNATSClient(svc.Config)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.Connect(ctx); err != nil {
			return errors.Wrap(err, "failed to connect to message bus")
		}

		svc.natsClient = client
		svc.Publisher = client
		if svc.Config.Bus.Twin.Enabled {
			svc.TwinStore = client
		}
	}
	return nil
}

func (svc *Server) logStats() {
	stats := svc.Services.GetStats()
	log.Infof("stats: received=%d forwarded=%d dropped=%d errors=%d diagnostics=%d suppressed=%d config_updates=%d listener=%s",
		stats.DatagramsReceived.Load(),
		stats.DatagramsForwarded.Load(),
		stats.DatagramsDropped.Load(),
		stats.ForwardingErrors.Load(),
		stats.DiagnosticsPublished.Load(),
		stats.DiagnosticsSuppressed.Load(),
		stats.ConfigUpdates.Load(),
		svc.UdpListener.State())
}

func (svc *Server) Start(housekeepingFn func(), quitterFn func(time.Duration)) {
	defer close(svc.stopped)

	// exit cleanly on signal
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGTERM)
	go func() {
		sig := <-signalC
		log.Debugf("Received signal %v", sig)

		if err := svc.Stop(2 * time.Second); err != nil {
			log.Fatalf("error stopping service: %v", err)
		}
	}()

	interval := svc.Config.GetHousekeepingInterval()

	if interval <= 0 {
		interval = 10 * time.Second
		log.Errorf("invalid housekeeping-interval: %d", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// wait for quit, run housekeeping (if any)
	for {
		select {
		case <-ticker.C:
			if housekeepingFn != nil && svc.Config.Housekeeping.Enabled {
				housekeepingFn()
			}
		case timeout := <-svc.quitterC:
			log.Debug("shutting down")

			if quitterFn != nil {
				quitterFn(timeout)
			}

			//lets bring em down one by one
			if err := svc.UdpListener.Stop(); err != nil {
				log.Errorf("error stopping UDP listener: %v", err)
			}

			if svc.Syncer != nil {
				svc.Syncer.Stop()
			}

			if svc.natsClient != nil {
				svc.natsClient.Close()
			}

			svc.logStats()

			svc.HttpApi.Stop()

			return
		}
	}
}

func (svc *Server) Stop(timeout time.Duration) error {
	log.Debugf("sending timeout %s to quitterC:", timeout)

	select {
	case svc.quitterC <- timeout:
		log.Debug("sent")
	case <-time.After(timeout + (100 * time.Millisecond)):
		log.Debug("timed out")
	}
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("failed to start: %s\n", err.Error())
		os.Exit(11)
	}
}
