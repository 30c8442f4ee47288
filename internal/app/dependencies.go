package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/uddoktapay-gateway/internal/billing"
	"github.com/noah-isme/uddoktapay-gateway/internal/config"
	"github.com/noah-isme/uddoktapay-gateway/internal/health"
	"github.com/noah-isme/uddoktapay-gateway/internal/obs"
)

// Dependencies holds the external connections shared by every component.
type Dependencies struct {
	DB *pgxpool.Pool
	// Redis is nil when REDIS_URL is unset; the lock and the Redis limiter
	// store are skipped in that case.
	Redis *redis.Client
}

// Connect opens the Postgres pool and, when configured, the Redis client.
func Connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "uddoktapay-gateway"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	deps := &Dependencies{DB: pool}

	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set: reconcile lock disabled, rate limits kept in memory")
		return deps, nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.EnablePrometheus {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	deps.Redis = client
	return deps, nil
}

// Close releases every connection.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	var err error
	if d.Redis != nil {
		err = d.Redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	return err
}

// Probes returns the readiness probes for the configured dependencies.
func (d *Dependencies) Probes(dbTimeout, redisTimeout time.Duration) []health.Probe {
	probes := []health.Probe{health.PostgresProbe(d.pinger(), dbTimeout)}
	if d != nil && d.Redis != nil {
		client := d.Redis
		probes = append(probes, health.RedisProbe(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}, redisTimeout))
	}
	return probes
}

func (d *Dependencies) pinger() health.Pinger {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB
}

// RunMigrations applies the embedded billing schema.
func RunMigrations(cfg *config.Config) error {
	if cfg == nil || cfg.DatabaseURL == "" {
		return errors.New("database url not configured")
	}
	return billing.Migrate(cfg.DatabaseURL)
}
