package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateAIAnalysis, downCreateAIAnalysis)
}

func upCreateAIAnalysis(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS ai_analysis (
	id                      BIGSERIAL PRIMARY KEY,
	downtime_id             BIGINT      NOT NULL REFERENCES downtime_events (id) ON DELETE CASCADE,
	root_cause              TEXT        NOT NULL DEFAULT '',
	immediate_actions       TEXT[]      NOT NULL DEFAULT '{}',
	preventive_measures     TEXT[]      NOT NULL DEFAULT '{}',
	severity                TEXT        NOT NULL DEFAULT '',
	predicted_next_failure  TEXT        NOT NULL DEFAULT '',
	confidence_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_maintenance_required BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ai_analysis_downtime_idx ON ai_analysis (downtime_id);
`)
	return err
}

func downCreateAIAnalysis(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS ai_analysis`)
	return err
}
