package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/subgen/internal/presenter"
	"github.com/psantana5/subgen/pkg/address"
	"github.com/psantana5/subgen/pkg/api"
	"github.com/psantana5/subgen/pkg/controller"
	"github.com/psantana5/subgen/pkg/logging"
	"github.com/psantana5/subgen/pkg/metrics"
	"github.com/psantana5/subgen/pkg/shutdown"
	"github.com/psantana5/subgen/pkg/store"
	pkgtls "github.com/psantana5/subgen/pkg/tls"
	"github.com/psantana5/subgen/pkg/tracing"
)

const (
	shutdownTimeout = 5 * time.Second
	storeTimeout    = 5 * time.Second

	// maxLogSize is the log file size past which start-up rotates it
	maxLogSize = 10 << 20
)

// app wires the client components for one command invocation
type app struct {
	cfg        *Config
	logger     *logging.Logger
	store      store.Store
	client     *api.Client
	reflector  *address.Reflector
	controller *controller.Controller
	metrics    *metrics.Collector
	tracing    *tracing.Provider
	printer    *presenter.Printer
	shutdown   *shutdown.Manager

	ctx  context.Context
	stop context.CancelFunc
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	format, err := presenter.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.NewCollector(),
		printer:  presenter.NewPrinter(cmd.OutOrStdout(), format),
		shutdown: shutdown.New(shutdownTimeout, logger),
	}
	a.shutdown.Register("logger", shutdown.CloseResource(logger, "logger"))
	a.ctx, a.stop = a.shutdown.SignalContext(cmd.Context())

	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg := a.cfg

	if cfg.Store != "memory" && cfg.Store != ":memory:" {
		if dir := filepath.Dir(cfg.Store); dir != "." && !isURL(cfg.Store) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
	}
	st, err := store.NewStore(store.ParseDSN(cfg.Store))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st
	a.shutdown.Register("store", shutdown.CloseResource(st, "store"))

	pingCtx, cancel := context.WithTimeout(a.ctx, storeTimeout)
	err = st.HealthCheck(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("store is not reachable: %w", err)
	}

	a.tracing, err = tracing.InitTracer(a.ctx, tracing.Config{
		ServiceName:    "subgen",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.shutdown.Register("tracing", a.tracing.Shutdown)

	tlsCfg := pkgtls.ClientConfig{
		CAFile:             cfg.TLS.CAFile,
		CertFile:           cfg.TLS.CertFile,
		KeyFile:            cfg.TLS.KeyFile,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	}
	opts := api.Options{
		BaseURL:     cfg.ServerURL,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.RequestTimeout,
		UploadLimit: cfg.UploadLimit,
		Tracing:     a.tracing,
		Logger:      a.logger,
		Metrics:     a.metrics,
	}
	if !tlsCfg.Empty() {
		if opts.TLSConfig, err = pkgtls.LoadClientTLSConfig(tlsCfg); err != nil {
			return err
		}
	}
	if a.client, err = api.NewClient(opts); err != nil {
		return err
	}

	if a.reflector, err = address.NewReflector(cfg.AddressBase, st); err != nil {
		return err
	}

	a.controller, err = controller.New(controller.Options{
		Service:      a.client,
		Reflector:    a.reflector,
		History:      st,
		PollInterval: cfg.PollInterval,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})
	if err != nil {
		return err
	}
	a.shutdown.Register("controller", shutdown.CloseResource(a.controller, "controller"))

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Listen(cfg.Metrics.Addr, a.metrics, metrics.ServerOptions{
			State: func() interface{} {
				return a.controller.State()
			},
			Health: st.HealthCheck,
			Logger: a.logger,
		})
		if err != nil {
			return err
		}
		a.logger.Info("Serving metrics", logging.Fields{"addr": srv.Addr()})
		a.shutdown.Register("metrics", shutdown.StopHTTPServer(srv, "metrics"))
	}

	return nil
}

// live subscribes a progress renderer to the controller when output is a table
func (a *app) live(cmd *cobra.Command) func() {
	format, _ := presenter.ParseFormat(a.cfg.Output)
	if format != presenter.FormatTable {
		return func() {}
	}
	out := cmd.ErrOrStderr()
	l := presenter.NewLive(out, presenter.IsTerminal(out))
	unsubscribe := a.controller.Subscribe(l.Observe)
	return func() {
		unsubscribe()
		l.Finish()
	}
}

// Close releases everything newApp acquired
func (a *app) Close() {
	if metricsDump && a.metrics != nil {
		a.metrics.WriteText(os.Stderr)
	}
	a.shutdown.Shutdown()
	a.stop()
}

func newLogger(cfg *Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	jsonFormat := cfg.Log.Format == "json"
	if cfg.Log.File {
		logger, err := logging.NewFileLogger(cfg.Log.Dir, "subgen", level, jsonFormat)
		if err != nil {
			return nil, err
		}
		if err := logger.RotateIfNeeded(maxLogSize); err != nil {
			logger.Warn("Failed to rotate log file", logging.Fields{"error": err.Error()})
		}
		return logger, nil
	}
	return logging.NewLogger(level, jsonFormat), nil
}

func isURL(s string) bool {
	return store.ParseDSN(s).Type == "postgres"
}
