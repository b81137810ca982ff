package sqlite

import (
	"context"

	"github.com/pkg/errors"
)

var migrationStmts = []string{
	`CREATE TABLE IF NOT EXISTS conversation (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE TABLE IF NOT EXISTS turn (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		conversation_id INTEGER NOT NULL REFERENCES conversation(id) ON DELETE CASCADE,
		user_message TEXT NOT NULL,
		reply TEXT NOT NULL DEFAULT '',
		diagnostics TEXT NOT NULL DEFAULT '{}',
		rounds INTEGER NOT NULL DEFAULT 0,
		capped BOOLEAN NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_turn_conversation_id ON turn (conversation_id)`,
}

func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrationStmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to execute migration statement")
		}
	}
	return nil
}
