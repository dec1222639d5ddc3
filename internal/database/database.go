package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/theognis1002/nimbus-dispatch/internal/config"
)

const defaultAppName = "nimbus-dispatch"

// NewPool opens a pgx pool tagged with the application name so dispatch
// connections are recognizable in pg_stat_activity.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}

	appName := cfg.AppName
	if appName == "" {
		appName = defaultAppName
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database %s: %w", cfg.Database, err)
	}

	return pool, nil
}
