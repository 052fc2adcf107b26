package main

import (
	"context"
	"log/slog"
	"os/signal"
	"slices"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/ops"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/silver"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/kafka"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serveCommand(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()
	cfg := e.cfg

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(e.catalog.Registry, e.runner, cfg.Schedules)
	if err != nil {
		return err
	}
	unavailable := e.catalog.Unavailable()
	for _, entry := range sched.Entries() {
		if slices.Contains(unavailable, entry.Job) {
			slog.Warn("scheduled job is not configured and will fail", "job", entry.Job)
		}
	}

	checker := health.NewChecker(cfg.Server.RequestTimeout)
	checker.Critical("database", e.client)
	if e.redis != nil {
		checker.Optional("redis", e.redis)
	}

	handler := ops.NewHandler(ctx, e.catalog, e.runner, e.runs,
		silver.NewQueries(e.client.DB, e.client.Dialect, cfg.Identity), sched.Entries)
	server := ops.NewServer(cfg.Server, handler, checker, e.metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)

	if cfg.Kafka.Enabled {
		trigger := events.NewTrigger(e.catalog.Registry, e.runner)
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RunEvents, trigger.Handle)
		g.Go(func() error { return consumer.Run(gctx) })
		slog.Info("run-event trigger started", "topic", cfg.Kafka.Topics.RunEvents)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		shutdownMetrics, err := e.metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			shutdownMetrics(sctx)
		}()
	}

	sched.Start(gctx)
	slog.Info("brain serve started", "port", cfg.Server.Port, "schedules", len(sched.Entries()))

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		sched.Stop(sctx)
		return server.Shutdown(sctx)
	})

	err = g.Wait()
	slog.Info("brain serve stopped")
	return err
}
