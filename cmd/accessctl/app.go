package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/faredeal/accessctl/internal/accessctl/directory"
	"github.com/faredeal/accessctl/internal/accessctl/service"
	"github.com/faredeal/accessctl/internal/accessctl/store"
	"github.com/faredeal/accessctl/internal/accessctl/store/memory"
	"github.com/faredeal/accessctl/internal/accessctl/store/redis"
	"github.com/faredeal/accessctl/internal/accessctl/store/sqlite"
	"github.com/faredeal/accessctl/internal/config"
	"github.com/faredeal/accessctl/internal/db"
	"github.com/faredeal/accessctl/internal/metrics"
)

// app is the wired dependency graph shared by serve and the admin commands.
type app struct {
	svc      *service.AccessControl
	backend  store.Backend
	fileDir  *directory.FileDirectory
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	closers []func() error
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	var dir store.Directory
	switch cfg.Backend {
	case config.BackendSQLite:
		sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			return nil, err
		}
		writer := db.NewWorker(sqlDB)
		a.closers = append(a.closers, func() error { writer.Close(); return sqlDB.Close() })

		if cfg.Env == "dev" && cfg.DirectoryFile == "" {
			if err := db.SeedEntities(ctx, sqlDB, memory.DemoEntities()); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.backend = sqlite.NewBackend(sqlDB, writer, cfg.AuditCapacity)
		dir = sqlite.NewDirectory(sqlDB)

	case config.BackendRedis:
		client, err := redis.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.backend = redis.NewBackend(client, "accessctl", cfg.AuditCapacity)
		dir = memory.NewDirectory(memory.DemoEntities())

	default:
		a.backend = memory.NewBackend(cfg.AuditCapacity)
		dir = memory.NewDirectory(memory.DemoEntities())
	}

	if cfg.DirectoryFile != "" {
		fd, err := directory.Load(cfg.DirectoryFile, logger.Named("directory"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.fileDir = fd
		a.closers = append(a.closers, fd.Close)
		dir = fd
	}

	a.svc = service.New(a.backend, dir,
		service.WithLogger(logger.Named("service")),
		service.WithMetrics(a.metrics),
		service.WithStrictEntities(cfg.StrictEntities),
	)

	logger.Info("access control ready",
		zap.String("backend", cfg.Backend),
		zap.Bool("strict_entities", cfg.StrictEntities),
		zap.String("directory_file", cfg.DirectoryFile))
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close: %w", errors.Join(errs...))
	}
	return nil
}
