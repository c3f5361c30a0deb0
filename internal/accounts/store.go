// Package accounts persists users, their linked provider accounts and registered OAuth clients.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tyemirov/drivegate/internal/authkit"
	"gorm.io/gorm"
)

var (
	errEmptyAccountID = errors.New("accounts.empty_account_id")
	errEmptyProvider  = errors.New("accounts.empty_provider")
)

type userRecord struct {
	UserID        string `gorm:"column:user_id;primaryKey"`
	Email         string `gorm:"column:email;index;not null;default:''"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (userRecord) TableName() string {
	return "users"
}

type identityAccountRecord struct {
	ID            uint           `gorm:"column:id;primaryKey;autoIncrement"`
	UserID        string         `gorm:"column:user_id;index;not null"`
	Provider      string         `gorm:"column:provider;uniqueIndex:idx_provider_account;not null"`
	AccountID     string         `gorm:"column:account_id;uniqueIndex:idx_provider_account;not null"`
	ExtraData     map[string]any `gorm:"column:extra_data;serializer:json"`
	LastLoginUnix int64          `gorm:"column:last_login_unix;not null"`
}

func (identityAccountRecord) TableName() string {
	return "identity_accounts"
}

type clientConfigRecord struct {
	ID           uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Provider     string `gorm:"column:provider;index;not null"`
	Name         string `gorm:"column:name;not null;default:''"`
	ClientID     string `gorm:"column:client_id;not null"`
	ClientSecret string `gorm:"column:client_secret;not null"`
}

func (clientConfigRecord) TableName() string {
	return "oauth_client_configs"
}

// Store implements authkit.AccountStore and authkit.OAuthClientConfigStore on GORM.
type Store struct {
	db          *gorm.DB
	driverLabel string
	now         func() time.Time
}

// Open connects to databaseURL and migrates the account tables.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	gormDB, driverLabel, err := authkit.OpenDatabase(ctx, databaseURL, &userRecord{}, &identityAccountRecord{}, &clientConfigRecord{})
	if err != nil {
		return nil, fmt.Errorf("accounts.open: %w", err)
	}
	return &Store{db: gormDB, driverLabel: driverLabel, now: time.Now}, nil
}

// Driver exposes the selected database driver label.
func (store *Store) Driver() string {
	return store.driverLabel
}

// ClientConfigs returns every client registered for provider.
func (store *Store) ClientConfigs(ctx context.Context, provider string) ([]authkit.OAuthClientConfig, error) {
	var records []clientConfigRecord
	if err := store.db.WithContext(ctx).Where("provider = ?", provider).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("accounts.client_configs.%s: %w", store.driverLabel, err)
	}
	configs := make([]authkit.OAuthClientConfig, 0, len(records))
	for _, record := range records {
		configs = append(configs, authkit.OAuthClientConfig{
			Provider:     record.Provider,
			Name:         record.Name,
			ClientID:     record.ClientID,
			ClientSecret: record.ClientSecret,
		})
	}
	return configs, nil
}

// EnsureClientConfig creates the provider's client config when absent, otherwise refreshes its credentials.
// created reports whether a new row was inserted.
func (store *Store) EnsureClientConfig(ctx context.Context, configuration authkit.OAuthClientConfig) (bool, error) {
	if strings.TrimSpace(configuration.Provider) == "" {
		return false, errEmptyProvider
	}
	created := false
	err := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing clientConfigRecord
		findErr := tx.Where("provider = ?", configuration.Provider).Order("id").Take(&existing).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(&clientConfigRecord{
				Provider:     configuration.Provider,
				Name:         configuration.Name,
				ClientID:     configuration.ClientID,
				ClientSecret: configuration.ClientSecret,
			}).Error
		}
		if findErr != nil {
			return findErr
		}
		return tx.Model(&existing).Updates(map[string]any{
			"client_id":     configuration.ClientID,
			"client_secret": configuration.ClientSecret,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("accounts.ensure_client_config.%s: %w", store.driverLabel, err)
	}
	return created, nil
}

// UpsertSocialLogin links the provider account to a user, creating the user on first login.
func (store *Store) UpsertSocialLogin(ctx context.Context, login authkit.SocialLogin) (string, error) {
	if strings.TrimSpace(login.Provider) == "" {
		return "", errEmptyProvider
	}
	if strings.TrimSpace(login.AccountID) == "" {
		return "", errEmptyAccountID
	}
	nowUnix := store.now().UTC().Unix()
	var userID string
	err := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account identityAccountRecord
		findErr := tx.Where("provider = ? AND account_id = ?", login.Provider, login.AccountID).Take(&account).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			userID = uuid.NewString()
			if createErr := tx.Create(&userRecord{UserID: userID, Email: login.Email, CreatedAtUnix: nowUnix}).Error; createErr != nil {
				return createErr
			}
			return tx.Create(&identityAccountRecord{
				UserID:        userID,
				Provider:      login.Provider,
				AccountID:     login.AccountID,
				ExtraData:     login.ExtraData,
				LastLoginUnix: nowUnix,
			}).Error
		}
		if findErr != nil {
			return findErr
		}
		userID = account.UserID
		account.ExtraData = login.ExtraData
		account.LastLoginUnix = nowUnix
		if saveErr := tx.Save(&account).Error; saveErr != nil {
			return saveErr
		}
		return tx.Model(&userRecord{}).Where("user_id = ?", userID).Update("email", login.Email).Error
	})
	if err != nil {
		return "", fmt.Errorf("accounts.upsert_social_login.%s: %w", store.driverLabel, err)
	}
	return userID, nil
}

// FindAccounts returns the accounts a user holds with provider.
func (store *Store) FindAccounts(ctx context.Context, userID string, provider string) ([]authkit.IdentityAccount, error) {
	var records []identityAccountRecord
	if err := store.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("accounts.find_accounts.%s: %w", store.driverLabel, err)
	}
	accounts := make([]authkit.IdentityAccount, 0, len(records))
	for _, record := range records {
		accounts = append(accounts, authkit.IdentityAccount{
			UserID:    record.UserID,
			Provider:  record.Provider,
			AccountID: record.AccountID,
			ExtraData: record.ExtraData,
		})
	}
	return accounts, nil
}
