package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"dealroom/internal/config"
	"dealroom/internal/db"
	"dealroom/internal/directory"
	"dealroom/internal/engine"
	"dealroom/internal/migrate"
)

type Options struct {
	Workspace string
	// ConfigPath overrides the workspace dealroom.yml.
	ConfigPath string
	Logger     *slog.Logger
}

// Runtime is an opened workspace: migrated database, loaded config and the engine wired
// to them.
type Runtime struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Logger    *slog.Logger

	redis *redis.Client
}

// Open ensures the workspace exists, migrates its database and builds the engine. When
// redis.url is configured, directory lookups go through the Redis cache.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Logger = logger
	e.Extractor.Logger = logger
	rt := &Runtime{Workspace: opts.Workspace, DB: conn, Config: cfg, Engine: e, Logger: logger}
	if cfg.Redis.URL != "" {
		client, err := directory.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			conn.Close()
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable; lookups fall through to the database",
				"module", "app", "operation", "connect_redis", "outcome", "degraded", "error", err)
		}
		cancel()
		rt.redis = client
		rt.Engine.Directory = directory.NewCached(directory.SQL{Repo: e.Repo}, client, cfg.Redis.TTL(), logger)
	}
	return rt, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOrDefault(opts.Workspace)
}

func (r *Runtime) Close() error {
	var errs []error
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}
