package authkitpg

import (
	"context"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS drive_sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    drive_state TEXT NOT NULL DEFAULT '',
    has_drive_state BOOLEAN NOT NULL DEFAULT FALSE,
    drive_credentials JSONB,
    expires_unix BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_drive_sessions_expires ON drive_sessions (expires_unix);
`

// EnsureSchema creates the session table if it does not exist.
func EnsureSchema(ctx context.Context, db Querier) error {
	if _, err := db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("authkitpg.schema: %w", err)
	}
	return nil
}
