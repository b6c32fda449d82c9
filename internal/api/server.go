// Package api serves the bridge's HTTP surface: device and recording
// status, the option store, recent logs, server-sent events, and the
// Prometheus metrics endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/openrec/tunerbridge/internal/discovery"
	"github.com/openrec/tunerbridge/internal/events"
	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/metrics"
	"github.com/openrec/tunerbridge/internal/version"
)

// Options wires the API server to the rest of the bridge.
type Options struct {
	Discoverer *discovery.HDHomeRunDiscoverer
	EventBus   *events.Bus
}

// Server is the Huma v2 API server on the Go 1.22+ native mux.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger
}

// NewServer builds the server and registers all routes.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("TunerBridge API", version.String())
	config.Info.Description = "HDHomeRun capture bridge status and configuration API"
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	s := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	api.UseMiddleware(s.loggingMiddleware)

	mux.Handle("GET /metrics", metrics.Handler())

	s.registerRoutes()
	return s
}

// loggingMiddleware records one debug line per request.
func (s *Server) loggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	s.logger.Debug("HTTP request", "method", ctx.Method(), "path", ctx.URL().Path)
	next(ctx)
}

// Start serves on addr until Stop.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down without waiting for open connections.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthData{Status: "ok"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*VersionResponse, error) {
		info := version.Get()
		return &VersionResponse{Body: VersionData{
			Version:   info.Version,
			GitCommit: info.GitCommit,
			BuildDate: info.BuildDate,
			GoVersion: info.GoVersion,
			Platform:  info.Platform,
		}}, nil
	})

	s.registerDeviceRoutes()
	s.registerRecordingRoutes()
	s.registerOptionRoutes()
	s.registerLogRoutes()
	s.registerEventRoutes()
}
