package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/faredeal/accessctl/internal/accessctl/publish"
	"github.com/faredeal/accessctl/internal/accessctl/service"
	"github.com/faredeal/accessctl/internal/grpcapi"
	"github.com/faredeal/accessctl/internal/httpapi"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health server, and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c)
		},
	}
}

func serve(ctx context.Context, c *cli) error {
	cfg, logger := c.cfg, c.logger

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	pruner := service.NewAuditPruner(a.backend, service.PrunerConfig{
		RetentionDays: cfg.AuditRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger.Named("pruner"), a.metrics)
	pruner.Start(ctx)
	defer pruner.Stop()

	if a.fileDir != nil {
		if err := a.fileDir.Watch(ctx, a.svc.NotifyDirectoryReloaded); err != nil {
			return err
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink := publish.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger.Named("kafka"), a.metrics)
		unsubscribe := a.svc.Subscribe(sink.Publish)
		defer func() {
			unsubscribe()
			if err := sink.Close(); err != nil {
				logger.Warn("kafka sink close", zap.Error(err))
			}
		}()
		logger.Info("forwarding events to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:         logger.Named("http"),
		Addr:           cfg.HTTPAddr,
		Service:        a.svc,
		Metrics:        a.metrics,
		Gatherer:       a.registry,
		JWTSigningKey:  cfg.JWTSigningKey,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	var health *grpcapi.HealthServer
	var grpcLn net.Listener
	if cfg.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
		}
		health = grpcapi.NewHealthServer(a.svc, logger.Named("grpc"))
		health.Check(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if health != nil {
		g.Go(func() error {
			logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
			if err := health.Serve(grpcLn); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if health != nil {
			health.Stop()
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
