// Package app wires configuration, storage, messaging and the
// recomputation services into a runnable container.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/projectpulse/pulse/internal/cache"
	"github.com/projectpulse/pulse/internal/clock"
	"github.com/projectpulse/pulse/internal/domain"
	"github.com/projectpulse/pulse/internal/notify"
	"github.com/projectpulse/pulse/internal/persistence"
	"github.com/projectpulse/pulse/internal/productivity"
	"github.com/projectpulse/pulse/internal/rollup"
	"github.com/projectpulse/pulse/internal/scheduler"
	"github.com/projectpulse/pulse/internal/scoring"
	"github.com/projectpulse/pulse/pkg/config"
	"github.com/projectpulse/pulse/pkg/observability"
)

// Container holds the wired application graph.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	Repo      domain.Repository
	Engine    *scoring.Engine
	Snapshots *productivity.SnapshotService
	Rollup    *rollup.Service
	Dirty     *scheduler.DirtyTracker
	Sink      notify.Sink
	Scheduler *scheduler.Scheduler
	Immediate *scheduler.ImmediateLoop
	Health    *observability.HealthRegistry

	pool   *pgxpool.Pool
	sqlite *persistence.SQLite
	redis  *redis.Client
}

// NewContainer builds the full graph from configuration. RabbitMQ and
// Redis are optional in development; the database is always required.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger}

	if err := c.initRepository(ctx); err != nil {
		return nil, err
	}
	if err := c.initCacheAndSink(ctx); err != nil {
		c.Close()
		return nil, err
	}

	clk := clock.System()
	engine := scoring.NewEngine(
		c.Repo,
		scoring.NewComplexityAnalyzer(scoring.DefaultComplexityConfig()),
		scoring.NewRiskAnalyzer(),
		scoring.NewPriorityScorer(scoring.DefaultPriorityConfig()),
		clk,
		logger,
	)
	c.Engine = engine

	var productivityCache productivity.Cache
	if c.redis != nil {
		productivityCache = cache.NewProductivityCache(c.redis, cfg.CacheTTL)
	}
	c.Snapshots = productivity.NewSnapshotService(c.Repo, productivity.NewScorer(), productivityCache, clk, logger)
	c.Rollup = rollup.NewService(c.Repo, clk, logger)
	c.Dirty = scheduler.NewDirtyTracker()

	schedConfig := scheduler.Config{
		PrioritySpec:          cfg.PrioritySpec,
		RiskAllSpec:           cfg.RiskAllSpec,
		RiskElevatedSpec:      cfg.RiskElevatedSpec,
		RiskCriticalSpec:      cfg.RiskCriticalSpec,
		RollupSpec:            cfg.RollupSpec,
		DailySnapshotSpec:     cfg.DailySnapshotSpec,
		WeeklySnapshotSpec:    cfg.WeeklySnapshotSpec,
		ElevatedRiskThreshold: cfg.ElevatedRiskThreshold,
		CriticalRiskThreshold: cfg.CriticalRiskThreshold,
		EntityTimeout:         cfg.EntityTimeout,
		Grace:                 cfg.TriggerGrace,
	}
	sched, err := scheduler.New(schedConfig, c.Repo, engine, c.Snapshots, c.Rollup, c.Sink, c.Dirty, clk, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Scheduler = sched

	c.Immediate = scheduler.NewImmediateLoop(
		scheduler.ImmediateConfig{
			PollInterval:  cfg.ImmediatePollInterval,
			EntityTimeout: cfg.EntityTimeout,
		},
		c.Dirty, engine, c.Snapshots, c.Rollup, c.Sink, clk, logger,
	)

	c.Health = observability.NewHealthRegistry()
	switch {
	case c.sqlite != nil:
		c.Health.Register("database", observability.PingChecker(
			c.sqlite.DB().PingContext, observability.HealthStatusUnhealthy))
	case c.pool != nil:
		c.Health.Register("database", observability.PingChecker(
			c.pool.Ping, observability.HealthStatusUnhealthy))
	}
	if c.redis != nil {
		// The cache is best-effort, so a dead redis only degrades.
		c.Health.Register("redis", observability.PingChecker(
			func(ctx context.Context) error { return c.redis.Ping(ctx).Err() },
			observability.HealthStatusDegraded))
	}

	return c, nil
}

func (c *Container) initRepository(ctx context.Context) error {
	switch c.Config.DBDriver {
	case "sqlite":
		store, err := persistence.OpenSQLite(ctx, c.Config.SQLitePath)
		if err != nil {
			return err
		}
		c.sqlite = store
		c.Repo = store
		c.Logger.Info("using sqlite repository", "path", c.Config.SQLitePath)
		return nil
	case "postgres":
		pool, err := pgxpool.New(ctx, c.Config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping database: %w", err)
		}
		c.pool = pool
		c.Repo = persistence.NewPostgres(pool)
		c.Logger.Info("connected to database")
		return nil
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Config.DBDriver)
	}
}

func (c *Container) initCacheAndSink(ctx context.Context) error {
	if c.Config.RedisEnabled {
		opts, err := redis.ParseURL(c.Config.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			if !c.Config.IsDevelopment() {
				client.Close()
				return fmt.Errorf("ping redis: %w", err)
			}
			c.Logger.Warn("redis not available, productivity cache disabled", "error", err)
			client.Close()
		} else {
			c.redis = client
			c.Logger.Info("connected to redis")
		}
	}

	var sink notify.Sink
	if c.Config.RabbitMQEnabled {
		rabbit, err := notify.NewRabbitMQSink(c.Config.RabbitMQURL, c.Logger)
		if err != nil {
			if !c.Config.IsDevelopment() {
				return fmt.Errorf("connect to RabbitMQ: %w", err)
			}
			c.Logger.Warn("RabbitMQ not available, using noop sink", "error", err)
			sink = notify.NewNoopSink(c.Logger)
		} else {
			sink = rabbit
		}
	} else {
		sink = notify.NewNoopSink(c.Logger)
	}
	c.Sink = notify.NewBreakerSink(sink, notify.DefaultBreakerConfig(), c.Logger)
	return nil
}

// Migrate applies database migrations for the configured driver. SQLite
// migrates automatically on open; this is the explicit entry point for
// Postgres deployments.
func (c *Container) Migrate(ctx context.Context) error {
	if c.pool != nil {
		return persistence.RunPostgresMigrations(ctx, c.pool)
	}
	return nil
}

// Close releases all held resources in reverse dependency order.
func (c *Container) Close() {
	if c.Sink != nil {
		if err := c.Sink.Close(); err != nil {
			c.Logger.Warn("error closing notification sink", "error", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.Logger.Warn("error closing redis client", "error", err)
		}
	}
	if c.sqlite != nil {
		if err := c.sqlite.Close(); err != nil {
			c.Logger.Warn("error closing sqlite database", "error", err)
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
}
