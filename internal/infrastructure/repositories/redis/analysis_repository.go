package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AnalysisRepository appends analyses to a per-downtime list.
type AnalysisRepository struct {
	client *redis.Client
	keys   keys
}

func NewAnalysisRepository(client *redis.Client, prefix string) *AnalysisRepository {
	return &AnalysisRepository{client: client, keys: newKeys(prefix)}
}

var _ ports.AnalysisRepository = (*AnalysisRepository)(nil)

func (r *AnalysisRepository) Insert(ctx context.Context, a *domain.Analysis) error {
	id, err := r.client.Incr(ctx, r.keys.analysisSeq()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate analysis id: %w", err)
	}
	a.ID = id

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	if err := r.client.RPush(ctx, r.keys.analyses(int64(a.DowntimeID)), data).Err(); err != nil {
		return fmt.Errorf("failed to store analysis in Redis: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) ByDowntime(ctx context.Context, id domain.DowntimeID) ([]*domain.Analysis, error) {
	values, err := r.client.LRange(ctx, r.keys.analyses(int64(id)), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read analyses: %w", err)
	}
	out := make([]*domain.Analysis, 0, len(values))
	for _, v := range values {
		var a domain.Analysis
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
		}
		out = append(out, &a)
	}
	return out, nil
}

