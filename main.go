package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/openrec/tunerbridge/cmd"
	"github.com/openrec/tunerbridge/internal/api"
	"github.com/openrec/tunerbridge/internal/config"
	"github.com/openrec/tunerbridge/internal/discovery"
	"github.com/openrec/tunerbridge/internal/events"
	"github.com/openrec/tunerbridge/internal/logging"
	"github.com/openrec/tunerbridge/internal/registry"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"tunerbridge.toml"`

	// Server settings
	Port string `help:"API listen address" short:"p" default:":9176" toml:"server.port" env:"SERVER_PORT"`

	// Option store settings
	Properties string `help:"Path to the persisted properties file" default:"tunerbridge.properties" toml:"store.properties" env:"STORE_PROPERTIES"`
	WatchStore bool   `help:"Reload the properties file when edited" default:"true" toml:"store.watch" env:"STORE_WATCH"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingDiscovery string `help:"Discovery logging level" default:"info" toml:"logging.discovery" env:"LOGGING_DISCOVERY"`
	LoggingRegistry  string `help:"Registry logging level" default:"info" toml:"logging.registry" env:"LOGGING_REGISTRY"`
	LoggingConsumer  string `help:"Consumer logging level" default:"info" toml:"logging.consumer" env:"LOGGING_CONSUMER"`
	LoggingUpload    string `help:"Upload client logging level" default:"info" toml:"logging.upload" env:"LOGGING_UPLOAD"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

// advertisingLoader is the recorder-facing device loader: until a control
// socket integration claims tuners, new capture devices are logged.
type advertisingLoader struct {
	logger *slog.Logger
}

func (l advertisingLoader) AdvertiseDevice(tuner *registry.Tuner) {
	l.logger.Info("Capture device available", "tuner", tuner.Name, "id", tuner.ID)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"discovery": opts.LoggingDiscovery,
				"registry":  opts.LoggingRegistry,
				"consumer":  opts.LoggingConsumer,
				"upload":    opts.LoggingUpload,
				"api":       opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		store := config.NewStore(opts.Properties, logging.GetLogger("config"))
		eventBus := events.New()

		discoverer := discovery.New(store, eventBus, nil)

		// Persist the registered option surface before anything watches or
		// serves it.
		if err := store.Save(); err != nil {
			logger.Warn("Could not persist the initial properties file", "error", err)
		}

		var watcher *config.Watcher
		if opts.WatchStore {
			watcher = config.NewWatcher(store, logging.GetLogger("config"), nil)
		}

		server := api.NewServer(&api.Options{
			Discoverer: discoverer,
			EventBus:   eventBus,
		})

		hooks.OnStart(func() {
			if watcher != nil {
				if err := watcher.Start(); err != nil {
					logger.Warn("Properties watcher failed to start", "error", err)
				}
			}

			loader := advertisingLoader{logger: logging.GetLogger("discovery")}
			if err := discoverer.StartDetection(loader); err != nil {
				if errors.Is(err, discovery.ErrDisabled) {
					logger.Info("HDHomeRun discovery is disabled by configuration")
				} else {
					logger.Error("Discovery failed to start", "error", err)
					os.Exit(1)
				}
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if err := server.Start(opts.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")

			for _, session := range discoverer.Sessions() {
				session.Release()
			}

			discoverer.StopDetection()
			discoverer.WaitForStopDetection()

			if err := server.Stop(); err != nil {
				logger.Error("Error stopping HTTP server", "error", err)
			}
			if watcher != nil {
				watcher.Stop()
			}
			if err := store.Save(); err != nil {
				logger.Warn("Could not persist the properties file", "error", err)
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateDiscoverCmd())
	cli.Root().AddCommand(cmd.CreateRecordCmd())

	cli.Run()
}
