package main

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/runlog"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/schema"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/internal/staging"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/db"
	apperrors "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/brain-pipeline/pkg/redis"
	"github.com/urfave/cli/v2"
)

// env holds everything a command needs. close releases it in reverse
// order of acquisition.
type env struct {
	cfg         *config.Config
	client      *db.Client
	metrics     *metrics.Metrics
	redis       *pkgredis.Client
	checkpoints checkpoint.Store
	schemas     *schema.Manager
	catalog     *jobs.Catalog
	pipeline    *pipeline.Pipeline
	runner      *pipeline.Runner
	runs        *runlog.Store
	producer    *kafka.Producer

	closers []func() error
}

// loadConfig reads --config and applies --log-level.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	logger.SetupWriter(c.App.ErrWriter, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// openStore loads the config and opens only the database.
func openStore(c *cli.Context) (*config.Config, *db.Client, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	client, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrConfig, err, "opening database")
	}
	return cfg, client, nil
}

// newEnv opens the store and builds the job catalog and pipeline. Redis and
// Kafka are optional; an unreachable Redis falls back to in-process
// watermarks.
func newEnv(c *cli.Context) (*env, error) {
	cfg, client, err := openStore(c)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, client: client, metrics: metrics.New(nil)}
	e.closers = append(e.closers, e.client.Close)

	e.checkpoints = checkpoint.NewMemoryStore()
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, watermarks will not persist", "addr", cfg.Redis.Addr, "error", err)
		} else {
			e.redis = rc
			e.closers = append(e.closers, rc.Close)
			e.checkpoints = checkpoint.NewRedisStore(rc, cfg.Redis.KeyPrefix)
		}
	}

	e.catalog, err = jobs.Build(cfg, jobs.Deps{
		Store:       e.client.DB,
		Checkpoints: e.checkpoints,
		Metrics:     e.metrics,
	})
	if err != nil {
		e.close()
		return nil, err
	}

	e.schemas = schema.NewManager(e.client.Dialect)
	e.runs = runlog.NewStore(e.client, e.schemas)
	e.pipeline = pipeline.New(e.client, e.schemas, staging.NewWriter(e.client.Dialect, cfg.Database.BatchSize), pipeline.Options{
		Policy:       cfg.Extract.RetryConfig(),
		FetchTimeout: cfg.Extract.FetchTimeout,
		Metrics:      e.metrics,
		Hooks:        []pipeline.Hook{e.runs.Hook()},
	})
	if cfg.Kafka.Enabled {
		e.producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RunEvents)
		e.closers = append(e.closers, e.producer.Close)
		e.pipeline.AddHook(events.NewPublisher(e.producer).Hook())
	}
	e.runner = pipeline.NewRunner(e.pipeline)
	return e, nil
}

// pushMetrics sends the run metrics to the Pushgateway, if one is set.
func (e *env) pushMetrics(ctx context.Context) {
	if err := e.metrics.Push(ctx, e.cfg.Metrics.PushgatewayURL, e.cfg.Metrics.PushJob); err != nil {
		slog.Warn("metrics push failed", "error", err)
	}
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	e.closers = nil
}
