package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddAlertSeen, downAddAlertSeen)
}

func upAddAlertSeen(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
ALTER TABLE downtime_events
	ADD COLUMN IF NOT EXISTS seen    BOOLEAN     NOT NULL DEFAULT FALSE,
	ADD COLUMN IF NOT EXISTS seen_at TIMESTAMPTZ,
	ADD COLUMN IF NOT EXISTS seen_by TEXT        NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS downtime_events_unseen_idx ON downtime_events (created_at DESC) WHERE NOT seen;
`)
	return err
}

func downAddAlertSeen(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
DROP INDEX IF EXISTS downtime_events_unseen_idx;
ALTER TABLE downtime_events
	DROP COLUMN IF EXISTS seen,
	DROP COLUMN IF EXISTS seen_at,
	DROP COLUMN IF EXISTS seen_by;
`)
	return err
}
