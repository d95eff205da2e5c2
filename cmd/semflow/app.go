package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semflow/config"
	"github.com/c360studio/semflow/engine"
	"github.com/c360studio/semflow/events"
	"github.com/c360studio/semflow/metric"
	"github.com/c360studio/semflow/signal"
	"github.com/c360studio/semflow/snapshot"
)

// App wires together all components of the semflow server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	// Core
	engine      *engine.Engine
	store       engine.SnapshotStore
	broadcaster *events.Broadcaster
	responder   *Responder
	watcher     *signal.Watcher

	// Metrics
	sink          *metric.Sink
	metricsServer *http.Server

	watcherCancel context.CancelFunc
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start initializes and starts all components.
func (a *App) Start(ctx context.Context) error {
	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	a.store = store

	var sink engine.MetricsSink = engine.NopMetrics{}
	if a.cfg.Metrics.Enabled {
		a.sink = metric.NewSink()
		sink = a.sink
	}

	phases, milestones := a.cfg.EnginePhases()
	eng, err := engine.New(engine.Options{
		Logger:           a.logger,
		Store:            store,
		Metrics:          sink,
		Phases:           phases,
		Milestones:       milestones,
		AgentCapacity:    a.cfg.Engine.AgentCapacity,
		SubscriberBuffer: a.cfg.Engine.SubscriberBuffer,
		SaveRetries:      a.cfg.Engine.SaveRetries,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	a.engine = eng

	if err := eng.Restore(ctx); err != nil {
		if errors.Is(err, snapshot.ErrNoSnapshot) {
			a.logger.Info("no saved state, starting fresh")
		} else {
			return fmt.Errorf("restore state: %w", err)
		}
	}

	// Subscribe before the engine starts so the started event is the
	// first thing relayed.
	a.broadcaster = events.NewBroadcaster(a.natsConn, a.logger)
	if err := a.broadcaster.Start(eng); err != nil {
		return fmt.Errorf("start broadcaster: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		a.broadcaster.Stop()
		return fmt.Errorf("start engine: %w", err)
	}

	a.responder = NewResponder(a.natsConn, eng, a.logger)
	if err := a.responder.Start(); err != nil {
		return fmt.Errorf("start responder: %w", err)
	}

	watcher, err := signal.NewWatcher(a.cfg.Signals.Dir, eng, a.cfg.Signals.Debounce, a.logger)
	if err != nil {
		return fmt.Errorf("create signal watcher: %w", err)
	}
	watcherCtx, cancel := context.WithCancel(context.Background())
	a.watcherCancel = cancel
	if err := watcher.Start(watcherCtx); err != nil {
		cancel()
		return fmt.Errorf("start signal watcher: %w", err)
	}
	a.watcher = watcher

	if a.sink != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.sink.Handler())
		a.metricsServer = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
		a.logger.Info("metrics endpoint serving", "addr", a.cfg.Metrics.Addr)
	}

	a.logger.Info("semflow ready", "nats_url", a.natsURL())
	return nil
}

// Engine returns the running engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

func (a *App) natsURL() string {
	if a.embeddedServer != nil {
		return a.embeddedServer.ClientURL()
	}
	return a.cfg.NATS.URL
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		// Connect to external NATS
		a.logger.Info("connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		// Start embedded NATS server
		a.logger.Info("starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		// Wait for server to be ready
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns

		// Connect to embedded server
		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	// Get JetStream context
	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	return nil
}

func (a *App) openStore(ctx context.Context) (engine.SnapshotStore, error) {
	switch a.cfg.Snapshot.Backend {
	case config.BackendKV:
		return snapshot.NewKVStore(ctx, a.js, a.cfg.Snapshot.Bucket)
	default:
		return snapshot.NewFileStore(a.cfg.Snapshot.Path)
	}
}

// Shutdown gracefully stops all components in reverse start order.
func (a *App) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.watcher != nil {
		a.watcherCancel()
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("signal watcher stop failed", "error", err)
		}
	}

	if a.responder != nil {
		a.responder.Stop()
	}

	if a.engine != nil {
		if err := a.engine.Stop(ctx); err != nil && err != engine.ErrEngineNotRunning {
			a.logger.Warn("engine stop failed", "error", err)
		}
	}

	if a.broadcaster != nil {
		a.broadcaster.Stop()
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}

	// Close NATS connection
	if a.natsConn != nil {
		a.natsConn.Drain()
		a.natsConn.Close()
	}

	// Shutdown embedded server
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	a.logger.Info("shutdown complete")
}
