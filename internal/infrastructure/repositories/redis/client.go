package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configures the Redis connection backing the record store.
type Options struct {
	Address   string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// NewRedisClient connects, verifies the connection and brings the key schema
// up to date.
func NewRedisClient(opts Options, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if err := Migrate(ctx, client, opts.KeyPrefix, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Redis",
			"address", opts.Address,
			"db", opts.DB,
			"pool_size", opts.PoolSize,
		)
	}

	return client, nil
}

func CloseRedisClient(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// keys builds the namespaced key names shared by the repositories and migrations.
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "quickdowntime"
	}
	return keys{prefix: prefix + ":"}
}

func (k keys) schemaVersion() string { return k.prefix + "schema:version" }
func (k keys) downtimeSeq() string   { return k.prefix + "downtime:seq" }
func (k keys) downtimeIndex() string { return k.prefix + "downtime:by_created" }
func (k keys) analysisSeq() string   { return k.prefix + "analysis:seq" }

func (k keys) downtime(id int64) string {
	return fmt.Sprintf("%sdowntime:%d", k.prefix, id)
}

func (k keys) analyses(downtimeID int64) string {
	return fmt.Sprintf("%sanalysis:downtime:%d", k.prefix, downtimeID)
}
