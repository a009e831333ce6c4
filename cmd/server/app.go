package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rpattn/sitepolygons/internal/archive"
	"github.com/rpattn/sitepolygons/internal/config"
	"github.com/rpattn/sitepolygons/internal/db"
	"github.com/rpattn/sitepolygons/internal/duplicates"
	"github.com/rpattn/sitepolygons/internal/geometry"
	"github.com/rpattn/sitepolygons/internal/ingestion"
	"github.com/rpattn/sitepolygons/internal/metrics"
	"github.com/rpattn/sitepolygons/internal/progress"
	"github.com/rpattn/sitepolygons/internal/repository"
	"github.com/rpattn/sitepolygons/internal/versioning"
)

// app holds the long-lived dependencies of a running process.
type app struct {
	conn     *db.Connection
	service  *ingestion.Service
	registry *prometheus.Registry
	closers  []func()
}

func (a *app) metricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}

	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a := &app{conn: conn, registry: registry, closers: []func(){conn.Close}}

	opts := []ingestion.Option{
		ingestion.WithConfig(ingestion.Config{
			ChunkThreshold: cfg.Ingestion.ChunkThreshold,
			ChunkSize:      cfg.Ingestion.ChunkSize,
		}),
		ingestion.WithMetrics(m),
		ingestion.WithLogger(logger.With("component", "ingestion")),
	}

	if cfg.Redis.Addr != "" {
		client := progress.OpenRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		a.closers = append(a.closers, func() { _ = client.Close() })
		opts = append(opts, ingestion.WithProgress(progress.NewRedisReporter(client, cfg.Redis.TTL)))
		logger.Info("progress reporting enabled", "redis", cfg.Redis.Addr)
	}

	if cfg.ObjectStore.Endpoint != "" {
		store, err := archive.NewMinIOStore(archive.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to configure object store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, ingestion.WithArchive(store))
		logger.Info("upload archiving enabled", "endpoint", cfg.ObjectStore.Endpoint, "bucket", cfg.ObjectStore.Bucket)
	}

	a.service = newService(repository.NewUnitOfWork(conn), cfg, logger, m, opts...)
	return a, nil
}

// newService builds the ingestion service on any unit of work.
func newService(uow repository.UnitOfWork, cfg config.Config, logger *slog.Logger, m *metrics.Metrics, opts ...ingestion.Option) *ingestion.Service {
	tessellation := geometry.DefaultTessellationConfig()
	tessellation.MarginMeters = cfg.Tessellation.MarginMeters
	tessellation.ShrinkMeters = cfg.Tessellation.ShrinkMeters
	tessellation.QuadSegments = cfg.Tessellation.QuadSegments

	return ingestion.NewService(
		uow,
		duplicates.NewDetector(cfg.Ingestion.DedupCacheTTL, logger.With("component", "duplicates"), m),
		geometry.NewTessellator(tessellation),
		versioning.NewEngine(logger.With("component", "versioning"), m),
		opts...,
	)
}
