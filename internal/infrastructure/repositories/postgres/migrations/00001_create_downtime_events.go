package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateDowntimeEvents, downCreateDowntimeEvents)
}

func upCreateDowntimeEvents(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS downtime_events (
	id               BIGSERIAL PRIMARY KEY,
	machine_id       TEXT        NOT NULL,
	reason           TEXT        NOT NULL DEFAULT '',
	category         TEXT        NOT NULL DEFAULT '',
	description      TEXT        NOT NULL DEFAULT '',
	duration_minutes INTEGER,
	image_path       TEXT        NOT NULL DEFAULT '',
	audio_path       TEXT        NOT NULL DEFAULT '',
	operator_id      TEXT        NOT NULL DEFAULT '',
	operator_email   TEXT        NOT NULL DEFAULT '',
	status           TEXT        NOT NULL DEFAULT 'open',
	severity         TEXT        NOT NULL DEFAULT '',
	root_cause       TEXT        NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	start_time       TIMESTAMPTZ NOT NULL DEFAULT now(),
	end_time         TIMESTAMPTZ,
	resolved_at      TIMESTAMPTZ,
	resolved_by      TEXT        NOT NULL DEFAULT '',
	resolution_notes TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS downtime_events_machine_idx ON downtime_events (machine_id, created_at DESC);
CREATE INDEX IF NOT EXISTS downtime_events_created_idx ON downtime_events (created_at DESC);
CREATE INDEX IF NOT EXISTS downtime_events_status_idx ON downtime_events (status);
`)
	return err
}

func downCreateDowntimeEvents(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS downtime_events`)
	return err
}
