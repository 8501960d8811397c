package repositories

import (
	"context"
	"fmt"

	"quickdowntime/internal/core/ports"
	"quickdowntime/internal/infrastructure/repositories/memory"
	pgrepo "quickdowntime/internal/infrastructure/repositories/postgres"
	redisrepo "quickdowntime/internal/infrastructure/repositories/redis"
	"quickdowntime/pkg/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory owns the connection to the configured record store and
// hands out repositories bound to it.
type RepositoryFactory struct {
	backend     string
	downtimes   ports.DowntimeRepository
	analyses    ports.AnalysisRepository
	redisClient *redis.Client
	pool        *pgxpool.Pool
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to the backend named by cfg.RemoteStore.Backend.
// A configured backend that cannot be reached is an error; only the memory
// backend needs no connection.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	f := &RepositoryFactory{
		backend: cfg.RemoteStore.Backend,
		logger:  logger,
	}

	switch cfg.RemoteStore.Backend {
	case config.StorePostgres:
		pool, err := pgrepo.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		if cfg.Postgres.MigrateOnStart {
			if err := pgrepo.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		f.pool = pool
		f.downtimes = pgrepo.NewDowntimeRepository(pool, cfg.Postgres.QueryTimeout)
		f.analyses = pgrepo.NewAnalysisRepository(pool, cfg.Postgres.QueryTimeout)

	case config.StoreRedis:
		client, err := redisrepo.NewRedisClient(redisrepo.Options{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		f.redisClient = client
		f.downtimes = redisrepo.NewDowntimeRepository(client, cfg.Redis.KeyPrefix)
		f.analyses = redisrepo.NewAnalysisRepository(client, cfg.Redis.KeyPrefix)

	default:
		f.backend = config.StoreMemory
		f.downtimes = memory.NewDowntimeRepository()
		f.analyses = memory.NewAnalysisRepository()
	}

	if logger != nil {
		logger.Infow("record store ready", "backend", f.backend)
	}
	return f, nil
}

func (f *RepositoryFactory) Backend() string {
	return f.backend
}

func (f *RepositoryFactory) DowntimeRepository() ports.DowntimeRepository {
	return f.downtimes
}

func (f *RepositoryFactory) AnalysisRepository() ports.AnalysisRepository {
	return f.analyses
}

// RedisClient returns the shared connection when the backend is redis.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close releases the backend connection, if any.
func (f *RepositoryFactory) Close() error {
	if f.pool != nil {
		f.pool.Close()
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck reports whether the record store answers.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	return f.downtimes.Ping(ctx)
}
