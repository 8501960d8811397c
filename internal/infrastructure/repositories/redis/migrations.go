package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const currentSchemaVersion = 2

type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client, k keys) error
	Down    func(ctx context.Context, client *redis.Client, k keys) error
}

// Migrate runs every migration newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, prefix string, logger *zap.SugaredLogger) error {
	k := newKeys(prefix)

	currentVersion, err := getSchemaVersion(ctx, client, k)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Infow("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}

		if err := migration.Up(ctx, client, k); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, k, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client, k keys) (int, error) {
	val, err := client.Get(ctx, k.schemaVersion()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, k keys, version int) error {
	return client.Set(ctx, k.schemaVersion(), version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			// Sequence counters start at zero so INCR hands out 1 first.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client, k keys) error {
				if err := client.SetNX(ctx, k.downtimeSeq(), 0, 0).Err(); err != nil {
					return err
				}
				return client.SetNX(ctx, k.analysisSeq(), 0, 0).Err()
			},
			Down: func(ctx context.Context, client *redis.Client, k keys) error {
				return client.Del(ctx, k.downtimeSeq(), k.analysisSeq()).Err()
			},
		},
		{
			// Rebuild the created_at index from stored records.
			Version: 2,
			Up: func(ctx context.Context, client *redis.Client, k keys) error {
				iter := client.Scan(ctx, 0, k.prefix+"downtime:[0-9]*", 100).Iterator()
				for iter.Next(ctx) {
					raw, err := client.Get(ctx, iter.Val()).Bytes()
					if errors.Is(err, redis.Nil) {
						continue
					}
					if err != nil {
						return err
					}
					d, err := decodeDowntime(raw)
					if err != nil {
						return err
					}
					if err := client.ZAdd(ctx, k.downtimeIndex(), indexMember(d)).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
			Down: func(ctx context.Context, client *redis.Client, k keys) error {
				return client.Del(ctx, k.downtimeIndex()).Err()
			},
		},
	}
}
