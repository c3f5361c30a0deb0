package authkit

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by session stores when the session id is unknown or expired.
var ErrSessionNotFound = errors.New("session_store.not_found")

// SessionStore holds per-session authorization state.
// Absent values are reported with ok=false or a nil record, never as errors.
type SessionStore interface {
	DriveState(ctx context.Context, sessionID string) (state string, ok bool, err error)
	SetDriveState(ctx context.Context, sessionID string, state string) error
	ClearDriveState(ctx context.Context, sessionID string) error
	DriveCredentials(ctx context.Context, sessionID string) (*CredentialRecord, error)
	SetDriveCredentials(ctx context.Context, sessionID string, record CredentialRecord) error
	ClearDriveCredentials(ctx context.Context, sessionID string) error
	UserID(ctx context.Context, sessionID string) (userID string, ok bool, err error)
	SetUserID(ctx context.Context, sessionID string, userID string) error
	Clear(ctx context.Context, sessionID string) error
}

// OAuthClientConfig is a registered client for an identity provider.
type OAuthClientConfig struct {
	Provider     string
	Name         string
	ClientID     string
	ClientSecret string
}

// OAuthClientConfigStore lists registered clients by provider name.
type OAuthClientConfigStore interface {
	ClientConfigs(ctx context.Context, provider string) ([]OAuthClientConfig, error)
}

// IdentityAccount links a local user to a provider account and caches its profile.
type IdentityAccount struct {
	UserID    string
	Provider  string
	AccountID string
	ExtraData map[string]any
}

// SocialLogin is the outcome of a provider login handshake before it is persisted.
type SocialLogin struct {
	Provider  string
	AccountID string
	Email     string
	ExtraData map[string]any
}

// AccountStore persists users and their provider accounts.
type AccountStore interface {
	UpsertSocialLogin(ctx context.Context, login SocialLogin) (userID string, err error)
	FindAccounts(ctx context.Context, userID string, provider string) ([]IdentityAccount, error)
}
