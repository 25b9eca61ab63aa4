package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/n0needt0/goodies/udp-bridge/config"
	"github.com/n0needt0/goodies/udp-bridge/services"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/rest/web"
	swgui "github.com/swaggest/swgui/v5emb"
	"go.opentelemetry.io/otel/metric"
)

type APIServer struct {
	Services   *services.Services
	ApiMetrics map[string]metric.Int64Counter
	HttpServer *http.Server
	sync.RWMutex
	Config *config.Config
}

// NewAPIServer creates a new API server instance
func NewAPIServer(services *services.Services, conf *config.Config) *APIServer {
	return &APIServer{
		Services:   services,
		ApiMetrics: make(map[string]metric.Int64Counter),
		Config:     conf,
	}
}

// UseMetric returns the request counter for label, creating it on first use
func (apiServer *APIServer) UseMetric(label, description string) metric.Int64Counter {
	apiServer.RLock()
	mtr, ok := apiServer.ApiMetrics[label]
	apiServer.RUnlock()
	if ok {
		return mtr
	}

	m, err := apiServer.Services.OtelMeter.Int64Counter(label, metric.WithDescription(description))
	if err != nil {
		log.Error("failed to init the metrics" + err.Error())
		return nil
	}

	apiServer.Lock()
	apiServer.ApiMetrics[label] = m
	apiServer.Unlock()

	return m
}

// NewRouter returns a new router serving API endpoints
func (apiServer *APIServer) NewRouter() *web.Service {
	service := web.NewService(openapi3.NewReflector())

	service.OpenAPISchema().SetTitle("UDP Bridge API")
	service.OpenAPISchema().SetDescription("UDP datagram to message bus bridge API")
	service.OpenAPISchema().SetVersion("v2.0.0")

	service.DecoderFactory.ApplyDefaults = true

	service.Wrap()

	api := NewAPI(apiServer.Services, apiServer.Config, apiServer.UseMetric)

	service.Get("/api/v2/health", api.HealthCheck())
	service.Get("/api/v2/config", api.GetConfig())
	service.Get("/api/v2/stats", api.GetStats())

	service.Docs("/v2/docs", swgui.New)

	service.Router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/v2/docs", http.StatusFound)
	})

	return service
}

// Serve serves http endpoints
func (apiServer *APIServer) Serve(address string, router http.Handler) {
	log.Infof("API server started on %s", address)

	server := &http.Server{
		Addr:           address,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	apiServer.Lock()
	apiServer.HttpServer = server
	apiServer.Unlock()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		log.Info("API server closed")
	} else {
		log.Errorf("API server failed and closed: %v", err)
	}
}

// Stop stops the server
func (apiServer *APIServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	apiServer.Lock()
	server := apiServer.HttpServer
	apiServer.HttpServer = nil
	apiServer.Unlock()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("error shutting down API server: %v", err)
		}
	}

	log.Info("API server shut down gracefully")
}
