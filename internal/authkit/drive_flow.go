package authkit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DriveScopes are requested by the Drive authorization grant.
var DriveScopes = []string{
	"https://www.googleapis.com/auth/drive",
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// DriveAuthorizer is the provider adapter for the Drive authorization-code grant.
type DriveAuthorizer interface {
	// AuthorizationURL builds a consent URL requesting offline access and forced consent.
	AuthorizationURL(state string, redirectURI string) string
	// Exchange trades the full callback URL for a credential record.
	Exchange(ctx context.Context, redirectURI string, callbackURL string) (CredentialRecord, error)
}

// ConnectionStatus distinguishes a full grant from one that cannot be refreshed.
type ConnectionStatus string

const (
	// StatusConnected means a refresh token was issued.
	StatusConnected ConnectionStatus = "connected"
	// StatusConnectedWithoutRefresh means only an access token was issued.
	StatusConnectedWithoutRefresh ConnectionStatus = "connected_without_refresh_token"
)

// ConnectedStatus is the success result of CompleteDriveAuth.
type ConnectedStatus struct {
	Status            ConnectionStatus `json:"status"`
	Message           string           `json:"message"`
	ReconnectRequired bool             `json:"reconnect_required"`
}

// DriveAuthorizationFlowConfig wires the collaborators of the Drive grant.
type DriveAuthorizationFlowConfig struct {
	// Authorizer may be nil when no client secrets were supplied; every call then fails with ErrDriveNotConfigured.
	Authorizer DriveAuthorizer
	Sessions   SessionStore
	Metrics    MetricsRecorder
	Logger     *zap.Logger
}

// DriveAuthorizationFlow negotiates the Drive grant and stores it in session.
type DriveAuthorizationFlow struct {
	authorizer DriveAuthorizer
	sessions   SessionStore
	metrics    MetricsRecorder
	logger     *zap.Logger
	newState   func() (string, error)
}

// NewDriveAuthorizationFlow constructs the flow.
func NewDriveAuthorizationFlow(configuration DriveAuthorizationFlowConfig) (*DriveAuthorizationFlow, error) {
	if configuration.Sessions == nil {
		return nil, errors.New("drive.new: sessions are required")
	}
	flow := &DriveAuthorizationFlow{
		authorizer: configuration.Authorizer,
		sessions:   configuration.Sessions,
		metrics:    configuration.Metrics,
		logger:     configuration.Logger,
		newState:   generateStateToken,
	}
	if flow.metrics == nil {
		flow.metrics = NewNoopMetrics()
	}
	if flow.logger == nil {
		flow.logger = zap.NewNop()
	}
	return flow, nil
}

// InitiateDriveAuth stores a fresh anti-forgery state in session and returns the consent URL.
func (flow *DriveAuthorizationFlow) InitiateDriveAuth(ctx context.Context, sessionID string, callbackURL string) (string, error) {
	if flow.authorizer == nil {
		return "", ErrDriveNotConfigured
	}
	state, stateErr := flow.newState()
	if stateErr != nil {
		return "", stateErr
	}
	if storeErr := flow.sessions.SetDriveState(ctx, sessionID, state); storeErr != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionUnavailable, storeErr)
	}
	return flow.authorizer.AuthorizationURL(state, callbackURL), nil
}

// CompleteDriveAuth validates the echoed state, exchanges the callback for credentials and stores them.
// The stored state is consumed whatever the outcome.
func (flow *DriveAuthorizationFlow) CompleteDriveAuth(ctx context.Context, sessionID string, returnedState string, callbackURL string, fullURL string) (ConnectedStatus, error) {
	storedState, present, loadErr := flow.sessions.DriveState(ctx, sessionID)
	if loadErr != nil {
		flow.metrics.Increment(metricDriveConnectFailure)
		return ConnectedStatus{}, fmt.Errorf("%w: %w", ErrSessionUnavailable, loadErr)
	}
	if clearErr := flow.sessions.ClearDriveState(ctx, sessionID); clearErr != nil {
		flow.metrics.Increment(metricDriveConnectFailure)
		return ConnectedStatus{}, fmt.Errorf("%w: %w", ErrSessionUnavailable, clearErr)
	}
	if !statesMatch(storedState, present, returnedState) {
		flow.metrics.Increment(metricDriveConnectFailure)
		flow.logger.Warn("drive callback state mismatch",
			zap.String("code", "drive.callback.state_mismatch"),
			zap.Bool("state_stored", present))
		return ConnectedStatus{}, ErrStateMismatch
	}
	if flow.authorizer == nil {
		flow.metrics.Increment(metricDriveConnectFailure)
		return ConnectedStatus{}, ErrDriveNotConfigured
	}

	record, exchangeErr := flow.authorizer.Exchange(ctx, callbackURL, fullURL)
	if exchangeErr != nil {
		flow.metrics.Increment(metricDriveConnectFailure)
		flow.logger.Warn("drive token exchange failed",
			zap.String("code", "drive.callback.exchange_failed"),
			zap.Error(exchangeErr))
		return ConnectedStatus{}, newProviderError(ErrTokenExchangeFailed, exchangeErr)
	}
	if storeErr := flow.sessions.SetDriveCredentials(ctx, sessionID, record); storeErr != nil {
		flow.metrics.Increment(metricDriveConnectFailure)
		return ConnectedStatus{}, fmt.Errorf("%w: %w", ErrSessionUnavailable, storeErr)
	}

	if !record.HasRefreshToken() {
		flow.metrics.Increment(metricDriveConnectDegraded)
		flow.logger.Info("drive connected without refresh token",
			zap.String("code", "drive.callback.degraded"))
		return ConnectedStatus{
			Status:            StatusConnectedWithoutRefresh,
			Message:           "Google Drive connected, but no refresh token was issued; reconnect may be required when access expires.",
			ReconnectRequired: true,
		}, nil
	}
	flow.metrics.Increment(metricDriveConnectSuccess)
	flow.logger.Info("drive connected",
		zap.String("code", "drive.callback.success"))
	return ConnectedStatus{
		Status:  StatusConnected,
		Message: "Google Drive connected successfully!",
	}, nil
}

// Disconnect drops the stored grant and any pending state.
func (flow *DriveAuthorizationFlow) Disconnect(ctx context.Context, sessionID string) error {
	if err := flow.sessions.ClearDriveState(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	if err := flow.sessions.ClearDriveCredentials(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return nil
}
