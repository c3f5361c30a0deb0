package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatabaseSessionStore persists session authorization state using GORM.
type DatabaseSessionStore struct {
	db          *gorm.DB
	driverLabel string
	ttl         time.Duration
	now         func() time.Time
}

type sessionRecord struct {
	SessionID        string            `gorm:"column:session_id;primaryKey"`
	UserID           string            `gorm:"column:user_id;index;not null;default:''"`
	DriveState       string            `gorm:"column:drive_state;not null;default:''"`
	HasDriveState    bool              `gorm:"column:has_drive_state;not null;default:false"`
	DriveCredentials *CredentialRecord `gorm:"column:drive_credentials;serializer:json"`
	ExpiresUnix      int64             `gorm:"column:expires_unix;index;not null"`
}

func (sessionRecord) TableName() string {
	return "sessions"
}

// NewDatabaseSessionStore opens the database at databaseURL and migrates the sessions table.
func NewDatabaseSessionStore(ctx context.Context, databaseURL string, ttl time.Duration) (*DatabaseSessionStore, error) {
	gormDB, driverLabel, err := OpenDatabase(ctx, databaseURL, &sessionRecord{})
	if err != nil {
		return nil, fmt.Errorf("session_store.open: %w", err)
	}
	return &DatabaseSessionStore{
		db:          gormDB,
		driverLabel: driverLabel,
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseSessionStore) Driver() string {
	return store.driverLabel
}

// DriveState returns the pending anti-forgery state, if any.
func (store *DatabaseSessionStore) DriveState(ctx context.Context, sessionID string) (string, bool, error) {
	record, err := store.load(ctx, sessionID)
	if err != nil || record == nil || !record.HasDriveState {
		return "", false, err
	}
	return record.DriveState, true, nil
}

// SetDriveState records a new pending state.
func (store *DatabaseSessionStore) SetDriveState(ctx context.Context, sessionID string, state string) error {
	return store.upsert(ctx, sessionID, map[string]any{"drive_state": state, "has_drive_state": true})
}

// ClearDriveState drops the pending state.
func (store *DatabaseSessionStore) ClearDriveState(ctx context.Context, sessionID string) error {
	return store.update(ctx, sessionID, map[string]any{"drive_state": "", "has_drive_state": false})
}

// DriveCredentials returns the stored grant or nil.
func (store *DatabaseSessionStore) DriveCredentials(ctx context.Context, sessionID string) (*CredentialRecord, error) {
	record, err := store.load(ctx, sessionID)
	if err != nil || record == nil {
		return nil, err
	}
	return record.DriveCredentials, nil
}

// SetDriveCredentials replaces the stored grant.
func (store *DatabaseSessionStore) SetDriveCredentials(ctx context.Context, sessionID string, record CredentialRecord) error {
	if err := store.upsert(ctx, sessionID, map[string]any{}); err != nil {
		return err
	}
	result := store.db.WithContext(ctx).Model(&sessionRecord{SessionID: sessionID}).
		Select("drive_credentials").
		Updates(&sessionRecord{DriveCredentials: cloneCredentialRecord(record)})
	if result.Error != nil {
		return fmt.Errorf("session_store.set_credentials.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

// ClearDriveCredentials drops the stored grant.
func (store *DatabaseSessionStore) ClearDriveCredentials(ctx context.Context, sessionID string) error {
	return store.update(ctx, sessionID, map[string]any{"drive_credentials": nil})
}

// UserID returns the logged-in user bound to the session.
func (store *DatabaseSessionStore) UserID(ctx context.Context, sessionID string) (string, bool, error) {
	record, err := store.load(ctx, sessionID)
	if err != nil || record == nil || record.UserID == "" {
		return "", false, err
	}
	return record.UserID, true, nil
}

// SetUserID binds a logged-in user to the session.
func (store *DatabaseSessionStore) SetUserID(ctx context.Context, sessionID string, userID string) error {
	return store.upsert(ctx, sessionID, map[string]any{"user_id": userID})
}

// Clear removes the session row.
func (store *DatabaseSessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := store.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&sessionRecord{}).Error; err != nil {
		return fmt.Errorf("session_store.clear.%s: %w", store.driverLabel, err)
	}
	return nil
}

func (store *DatabaseSessionStore) load(ctx context.Context, sessionID string) (*sessionRecord, error) {
	var record sessionRecord
	err := store.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, err)
	}
	if record.ExpiresUnix != 0 && time.Unix(record.ExpiresUnix, 0).Before(store.now()) {
		return nil, nil
	}
	return &record, nil
}

func (store *DatabaseSessionStore) upsert(ctx context.Context, sessionID string, columns map[string]any) error {
	purgeErr := store.db.WithContext(ctx).
		Where("session_id = ? AND expires_unix <> 0 AND expires_unix < ?", sessionID, store.now().Unix()).
		Delete(&sessionRecord{}).Error
	if purgeErr != nil {
		return fmt.Errorf("session_store.purge.%s: %w", store.driverLabel, purgeErr)
	}
	expiresUnix := store.expiresUnix()
	record := sessionRecord{SessionID: sessionID, ExpiresUnix: expiresUnix}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]any{"expires_unix": expiresUnix}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("session_store.upsert.%s: %w", store.driverLabel, err)
	}
	if len(columns) == 0 {
		return nil
	}
	return store.update(ctx, sessionID, columns)
}

func (store *DatabaseSessionStore) update(ctx context.Context, sessionID string, columns map[string]any) error {
	result := store.db.WithContext(ctx).Model(&sessionRecord{}).Where("session_id = ?", sessionID).Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("session_store.update.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

func (store *DatabaseSessionStore) expiresUnix() int64 {
	if store.ttl <= 0 {
		return 0
	}
	return store.now().Add(store.ttl).Unix()
}
