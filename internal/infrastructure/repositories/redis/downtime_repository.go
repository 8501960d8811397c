package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// DowntimeRepository stores each record as a JSON value and keeps a sorted set
// of ids scored by creation time. Filtering happens in process after a scan of
// the index.
type DowntimeRepository struct {
	client *redis.Client
	keys   keys
	now    func() time.Time
}

func NewDowntimeRepository(client *redis.Client, prefix string) *DowntimeRepository {
	return &DowntimeRepository{
		client: client,
		keys:   newKeys(prefix),
		now:    time.Now,
	}
}

var _ ports.DowntimeRepository = (*DowntimeRepository)(nil)

func (r *DowntimeRepository) Insert(ctx context.Context, d *domain.Downtime) (*domain.Downtime, error) {
	id, err := r.client.Incr(ctx, r.keys.downtimeSeq()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate downtime id: %w", err)
	}

	stored := *d
	stored.ID = domain.DowntimeID(id)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now().UTC()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	if stored.Status == "" {
		stored.Status = domain.StatusOpen
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal downtime: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.keys.downtime(id), data, 0)
		pipe.ZAdd(ctx, r.keys.downtimeIndex(), indexMember(&stored))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store downtime in Redis: %w", err)
	}
	return &stored, nil
}

func (r *DowntimeRepository) Update(ctx context.Context, id domain.DowntimeID, patch domain.DowntimePatch) (*domain.Downtime, error) {
	key := r.keys.downtime(int64(id))
	var updated *domain.Downtime

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrDowntimeNotFound
		}
		if err != nil {
			return err
		}
		d, err := decodeDowntime(raw)
		if err != nil {
			return err
		}

		patch.Apply(d)
		if patch.UpdatedAt == nil {
			d.UpdatedAt = r.now().UTC()
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			updated = d
		}
		return err
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, domain.ErrDowntimeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update downtime %d: %w", id, err)
	}
	return updated, nil
}

func (r *DowntimeRepository) GetByID(ctx context.Context, id domain.DowntimeID) (*domain.Downtime, error) {
	raw, err := r.client.Get(ctx, r.keys.downtime(int64(id))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrDowntimeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get downtime from Redis: %w", err)
	}
	return decodeDowntime(raw)
}

func (r *DowntimeRepository) Query(ctx context.Context, filter domain.DowntimeFilter) ([]*domain.Downtime, error) {
	all, err := r.load(ctx, filter.CreatedAfter)
	if err != nil {
		return nil, err
	}
	return filter.Apply(all), nil
}

func (r *DowntimeRepository) Count(ctx context.Context, filter domain.DowntimeFilter) (int, error) {
	all, err := r.load(ctx, filter.CreatedAfter)
	if err != nil {
		return 0, err
	}
	filter.Offset, filter.Limit = 0, 0
	return len(filter.Apply(all)), nil
}

func (r *DowntimeRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// load reads the records whose creation time is at or after since, or every
// record when since is nil.
func (r *DowntimeRepository) load(ctx context.Context, since *time.Time) ([]*domain.Downtime, error) {
	min := "-inf"
	if since != nil {
		min = strconv.FormatInt(since.UnixMilli(), 10)
	}
	ids, err := r.client.ZRangeByScore(ctx, r.keys.downtimeIndex(), &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read downtime index: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Downtime{}, nil
	}

	recordKeys := make([]string, 0, len(ids))
	for _, member := range ids {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		recordKeys = append(recordKeys, r.keys.downtime(id))
	}

	values, err := r.client.MGet(ctx, recordKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read downtimes: %w", err)
	}

	out := make([]*domain.Downtime, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		d, err := decodeDowntime([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeDowntime(raw []byte) (*domain.Downtime, error) {
	var d domain.Downtime
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal downtime: %w", err)
	}
	return &d, nil
}

func indexMember(d *domain.Downtime) redis.Z {
	return redis.Z{
		Score:  float64(d.CreatedAt.UnixMilli()),
		Member: strconv.FormatInt(int64(d.ID), 10),
	}
}
