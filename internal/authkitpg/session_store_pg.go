package authkitpg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tyemirov/drivegate/internal/authkit"
)

// Querier is the subset of *pgxpool.Pool used by the store.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// PostgresSessionStore implements authkit.SessionStore on a drive_sessions table.
type PostgresSessionStore struct {
	db  Querier
	ttl time.Duration
	now func() time.Time
}

// NewPostgresSessionStore constructs a store; a non-positive ttl never expires sessions.
func NewPostgresSessionStore(db Querier, ttl time.Duration) *PostgresSessionStore {
	return &PostgresSessionStore{db: db, ttl: ttl, now: time.Now}
}

type sessionRow struct {
	userID        string
	driveState    string
	hasDriveState bool
	credentials   *authkit.CredentialRecord
}

// DriveState returns the pending anti-forgery state, if any.
func (store *PostgresSessionStore) DriveState(ctx context.Context, sessionID string) (string, bool, error) {
	row, err := store.load(ctx, sessionID)
	if err != nil || row == nil || !row.hasDriveState {
		return "", false, err
	}
	return row.driveState, true, nil
}

// SetDriveState records a new pending state.
func (store *PostgresSessionStore) SetDriveState(ctx context.Context, sessionID string, state string) error {
	return store.upsert(ctx, sessionID, "drive_state = EXCLUDED.drive_state, has_drive_state = TRUE",
		`INSERT INTO drive_sessions (session_id, expires_unix, drive_state, has_drive_state) VALUES ($1, $2, $3, TRUE)`, state)
}

// ClearDriveState drops the pending state.
func (store *PostgresSessionStore) ClearDriveState(ctx context.Context, sessionID string) error {
	return store.exec(ctx, "clear_state",
		`UPDATE drive_sessions SET drive_state = '', has_drive_state = FALSE WHERE session_id = $1`, sessionID)
}

// DriveCredentials returns the stored grant or nil.
func (store *PostgresSessionStore) DriveCredentials(ctx context.Context, sessionID string) (*authkit.CredentialRecord, error) {
	row, err := store.load(ctx, sessionID)
	if err != nil || row == nil {
		return nil, err
	}
	return row.credentials, nil
}

// SetDriveCredentials replaces the stored grant.
func (store *PostgresSessionStore) SetDriveCredentials(ctx context.Context, sessionID string, record authkit.CredentialRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("authkitpg.encode_credentials: %w", err)
	}
	return store.upsert(ctx, sessionID, "drive_credentials = EXCLUDED.drive_credentials",
		`INSERT INTO drive_sessions (session_id, expires_unix, drive_credentials) VALUES ($1, $2, $3)`, encoded)
}

// ClearDriveCredentials drops the stored grant.
func (store *PostgresSessionStore) ClearDriveCredentials(ctx context.Context, sessionID string) error {
	return store.exec(ctx, "clear_credentials",
		`UPDATE drive_sessions SET drive_credentials = NULL WHERE session_id = $1`, sessionID)
}

// UserID returns the logged-in user bound to the session.
func (store *PostgresSessionStore) UserID(ctx context.Context, sessionID string) (string, bool, error) {
	row, err := store.load(ctx, sessionID)
	if err != nil || row == nil || row.userID == "" {
		return "", false, err
	}
	return row.userID, true, nil
}

// SetUserID binds a logged-in user to the session.
func (store *PostgresSessionStore) SetUserID(ctx context.Context, sessionID string, userID string) error {
	return store.upsert(ctx, sessionID, "user_id = EXCLUDED.user_id",
		`INSERT INTO drive_sessions (session_id, expires_unix, user_id) VALUES ($1, $2, $3)`, userID)
}

// Clear removes the session row.
func (store *PostgresSessionStore) Clear(ctx context.Context, sessionID string) error {
	return store.exec(ctx, "clear", `DELETE FROM drive_sessions WHERE session_id = $1`, sessionID)
}

func (store *PostgresSessionStore) load(ctx context.Context, sessionID string) (*sessionRow, error) {
	var row sessionRow
	var encoded []byte
	var expiresUnix int64
	scanErr := store.db.QueryRow(ctx, `
SELECT user_id, drive_state, has_drive_state, drive_credentials, expires_unix
FROM drive_sessions
WHERE session_id = $1
`, sessionID).Scan(&row.userID, &row.driveState, &row.hasDriveState, &encoded, &expiresUnix)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("authkitpg.load: %w", scanErr)
	}
	if expiresUnix != 0 && time.Unix(expiresUnix, 0).Before(store.now()) {
		return nil, nil
	}
	if len(encoded) > 0 && string(encoded) != "null" {
		var record authkit.CredentialRecord
		if err := json.Unmarshal(encoded, &record); err != nil {
			return nil, fmt.Errorf("authkitpg.decode_credentials: %w", err)
		}
		row.credentials = &record
	}
	return &row, nil
}

// upsert purges an expired row for the session, then inserts or updates the given column.
func (store *PostgresSessionStore) upsert(ctx context.Context, sessionID string, assignments string, insert string, value any) error {
	if err := store.exec(ctx, "purge",
		`DELETE FROM drive_sessions WHERE session_id = $1 AND expires_unix <> 0 AND expires_unix < $2`,
		sessionID, store.now().Unix()); err != nil {
		return err
	}
	statement := insert + ` ON CONFLICT (session_id) DO UPDATE SET expires_unix = EXCLUDED.expires_unix, ` + assignments
	return store.exec(ctx, "upsert", statement, sessionID, store.expiresUnix(), value)
}

func (store *PostgresSessionStore) exec(ctx context.Context, operation string, statement string, arguments ...any) error {
	if _, err := store.db.Exec(ctx, statement, arguments...); err != nil {
		return fmt.Errorf("authkitpg.%s: %w", operation, err)
	}
	return nil
}

func (store *PostgresSessionStore) expiresUnix() int64 {
	if store.ttl <= 0 {
		return 0
	}
	return store.now().Add(store.ttl).Unix()
}
