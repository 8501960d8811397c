package postgres

import (
	"context"
	"fmt"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/ports"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AnalysisRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewAnalysisRepository(pool *pgxpool.Pool, timeout time.Duration) *AnalysisRepository {
	return &AnalysisRepository{pool: pool, timeout: timeout}
}

var _ ports.AnalysisRepository = (*AnalysisRepository)(nil)

func (r *AnalysisRepository) Insert(ctx context.Context, a *domain.Analysis) error {
	ctx, done := startOp(ctx, r.timeout, "insert", "ai_analysis")
	defer done()

	immediate := a.ImmediateActions
	if immediate == nil {
		immediate = []string{}
	}
	preventive := a.PreventiveMeasures
	if preventive == nil {
		preventive = []string{}
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	err := r.pool.QueryRow(ctx, `
INSERT INTO ai_analysis (downtime_id, root_cause, immediate_actions, preventive_measures, severity,
	predicted_next_failure, confidence_score, is_maintenance_required, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		int64(a.DowntimeID), a.RootCause, immediate, preventive, string(a.Severity),
		a.PredictedNextFailure, a.ConfidenceScore, a.IsMaintenanceRequired, created,
	).Scan(&a.ID)
	if err != nil {
		return failOp(ctx, fmt.Errorf("failed to insert analysis: %w", err))
	}
	return nil
}

func (r *AnalysisRepository) ByDowntime(ctx context.Context, id domain.DowntimeID) ([]*domain.Analysis, error) {
	ctx, done := startOp(ctx, r.timeout, "select", "ai_analysis")
	defer done()

	var out []*domain.Analysis
	err := pgxscan.Select(ctx, r.pool, &out, `
SELECT id, downtime_id, root_cause, immediate_actions, preventive_measures, severity,
	predicted_next_failure, confidence_score, is_maintenance_required, created_at
FROM ai_analysis WHERE downtime_id = $1 ORDER BY id`, int64(id))
	if err != nil {
		return nil, failOp(ctx, fmt.Errorf("failed to query analyses: %w", err))
	}
	return out, nil
}
