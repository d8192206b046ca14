package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"smartshopai/provisioner/internal/api"
	"smartshopai/provisioner/internal/clients"
	"smartshopai/provisioner/internal/config"
	"smartshopai/provisioner/internal/manifest"
	"smartshopai/provisioner/internal/orchestrator"
	"smartshopai/provisioner/internal/telemetry"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	plan         *manifest.Plan
	orchestrator *orchestrator.Orchestrator
	router       *api.Router
}

// buildAppContext wires the application from cfg:
//  1. OTEL provider, when an endpoint is configured
//  2. the manifest, resolved for the configured topology and validated
//  3. one client per enabled dependency, each with its own breaker
//  4. the orchestrator and the HTTP router
//
// No connection is opened here.
func buildAppContext(cfg *config.Config, announceOut io.Writer) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Debug("OTEL telemetry disabled (no endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(context.Background(), telemetry.Options{
			Endpoint:       cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.OTLPInsecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			SampleRatio:    cfg.Telemetry.SampleRatio,
			MetricInterval: cfg.Telemetry.MetricInterval,
		})
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		} else {
			app.otelProvider = tp
			slog.SetDefault(slog.New(telemetry.NewTeeHandler(
				slog.Default().Handler(),
				telemetry.NewSpanEventHandler(slog.LevelWarn),
			)))
		}
	}

	plan, err := loadPlan(cfg.Bootstrap)
	if err != nil {
		return nil, err
	}
	app.plan = plan

	seedMode := manifest.SeedMode(cfg.Bootstrap.SeedMode)
	mongo := clients.NewMongoClient(cfg.Bootstrap.Mongo, clients.NewCircuitBreaker("mongo"))

	opts := []orchestrator.Option{orchestrator.WithSeedMode(seedMode)}
	var announcers []orchestrator.Announcer

	if cfg.Bootstrap.NATS.Enabled {
		nats := clients.NewNATSClient(cfg.Bootstrap.NATS, clients.NewCircuitBreaker("nats"))
		announcers = append(announcers, nats)
		opts = append(opts, orchestrator.WithProber("nats", nats))
	}
	if cfg.Bootstrap.Redis.Enabled {
		redis := clients.NewRedisClient(cfg.Bootstrap.Redis, clients.NewCircuitBreaker("redis"))
		opts = append(opts, orchestrator.WithRunLock(redis), orchestrator.WithProber("redis", redis))
	}
	if cfg.Bootstrap.Postgres.Enabled {
		pg := clients.NewPostgresClient(cfg.Bootstrap.Postgres, clients.NewCircuitBreaker("postgres"))
		opts = append(opts, orchestrator.WithLedger(pg), orchestrator.WithProber("postgres", pg))
	}

	// the completion line is always the last thing announced
	announcers = append(announcers, clients.NewStdoutAnnouncer(announceOut))
	opts = append(opts, orchestrator.WithAnnouncers(announcers...))

	app.orchestrator = orchestrator.New(mongo, plan, opts...)
	app.router = api.NewRouter(app.orchestrator, api.RouterConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		RunTimeout:  cfg.Bootstrap.Timeout,
	})

	return app, nil
}

// loadPlan reads the manifest, resolves it for the configured topology,
// applies the secret override and validates the result.
func loadPlan(b config.BootstrapConfig) (*manifest.Plan, error) {
	m, err := manifest.Load(b.Manifest)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	plan, err := m.Resolve(manifest.Topology(b.Topology))
	if err != nil {
		return nil, fmt.Errorf("resolving manifest: %w", err)
	}
	plan = plan.WithSecret(b.PrincipalSecret)
	if err := plan.Validate(manifest.SeedMode(b.SeedMode)); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return plan, nil
}

// shutdown flushes telemetry. Safe to call when OTEL is disabled.
func (a *AppContext) shutdown() {
	if a == nil || a.otelProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otelProvider.Shutdown(ctx); err != nil {
		slog.Warn("OTEL shutdown error", "err", err)
	}
}

// announceWriter is where the completion line goes. JSON output keeps stdout
// machine-readable, so the line moves to stderr.
func announceWriter() io.Writer {
	if output == outputJSON {
		return os.Stderr
	}
	return os.Stdout
}
