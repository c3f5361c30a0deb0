package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// IdentityProvider is the provider-specific adapter used by the login flow.
type IdentityProvider interface {
	LoginURL(ctx context.Context, client OAuthClientConfig, redirectURI string) (string, error)
	ExchangeCode(ctx context.Context, client OAuthClientConfig, code string, params url.Values, redirectURI string) (*oauth2.Token, error)
	CompleteLogin(ctx context.Context, client OAuthClientConfig, token NormalizedToken) (SocialLogin, error)
}

// ProfileSummary is returned to the caller after a successful login.
type ProfileSummary struct {
	ID          string `json:"id"`
	AccessToken string `json:"access_token"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Picture     string `json:"picture"`
}

// IdentityLoginFlowConfig wires the collaborators of the login flow.
type IdentityLoginFlowConfig struct {
	Provider string
	Clients  OAuthClientConfigStore
	Adapter  IdentityProvider
	Accounts AccountStore
	Sessions SessionStore
	Clock    Clock
	Metrics  MetricsRecorder
	Logger   *zap.Logger
}

// IdentityLoginFlow signs a user in through an external identity provider.
type IdentityLoginFlow struct {
	provider string
	clients  OAuthClientConfigStore
	adapter  IdentityProvider
	accounts AccountStore
	sessions SessionStore
	clock    Clock
	metrics  MetricsRecorder
	logger   *zap.Logger

	newSessionID func() string
}

// NewIdentityLoginFlow validates the configuration and constructs the flow.
func NewIdentityLoginFlow(configuration IdentityLoginFlowConfig) (*IdentityLoginFlow, error) {
	if configuration.Clients == nil || configuration.Adapter == nil || configuration.Accounts == nil || configuration.Sessions == nil {
		return nil, errors.New("identity.new: clients, adapter, accounts and sessions are required")
	}
	flow := &IdentityLoginFlow{
		provider: configuration.Provider,
		clients:  configuration.Clients,
		adapter:  configuration.Adapter,
		accounts: configuration.Accounts,
		sessions: configuration.Sessions,
		clock:    configuration.Clock,
		metrics:  configuration.Metrics,
		logger:   configuration.Logger,

		newSessionID: NewSessionID,
	}
	if strings.TrimSpace(flow.provider) == "" {
		flow.provider = GoogleProvider
	}
	if flow.clock == nil {
		flow.clock = NewSystemClock()
	}
	if flow.metrics == nil {
		flow.metrics = NewNoopMetrics()
	}
	if flow.logger == nil {
		flow.logger = zap.NewNop()
	}
	return flow, nil
}

// InitiateLogin returns the provider's hosted login URL. No session state is written.
func (flow *IdentityLoginFlow) InitiateLogin(ctx context.Context, redirectURI string) (string, error) {
	client, resolveErr := flow.resolveClient(ctx)
	if resolveErr != nil {
		return "", resolveErr
	}
	loginURL, urlErr := flow.adapter.LoginURL(ctx, client, redirectURI)
	if urlErr != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, urlErr)
	}
	return loginURL, nil
}

// CompleteLogin exchanges the authorization code, links the provider account and binds the user to a
// freshly rotated session. It returns the id of that session; the pre-login session id is discarded.
func (flow *IdentityLoginFlow) CompleteLogin(ctx context.Context, sessionID string, code string, params url.Values, redirectURI string) (ProfileSummary, string, error) {
	summary, rotatedID, err := flow.completeLogin(ctx, sessionID, code, params, redirectURI)
	if err != nil {
		flow.metrics.Increment(metricAuthLoginFailure)
		flow.logger.Warn("identity login failed",
			zap.String("code", "identity.callback.failed"),
			zap.String("provider", flow.provider),
			zap.Error(err))
		return ProfileSummary{}, "", err
	}
	flow.metrics.Increment(metricAuthLoginSuccess)
	flow.logger.Info("identity login completed",
		zap.String("code", "identity.callback.success"),
		zap.String("provider", flow.provider),
		zap.String("account_id", summary.ID))
	return summary, rotatedID, nil
}

func (flow *IdentityLoginFlow) completeLogin(ctx context.Context, sessionID string, code string, params url.Values, redirectURI string) (ProfileSummary, string, error) {
	if strings.TrimSpace(code) == "" {
		return ProfileSummary{}, "", ErrMissingCode
	}
	client, resolveErr := flow.resolveClient(ctx)
	if resolveErr != nil {
		return ProfileSummary{}, "", resolveErr
	}

	rawToken, exchangeErr := flow.adapter.ExchangeCode(ctx, client, code, params, redirectURI)
	if exchangeErr != nil {
		return ProfileSummary{}, "", newProviderError(ErrTokenExchangeFailed, exchangeErr)
	}
	token, ok := NormalizeToken(rawToken, flow.clock.Now())
	if !ok {
		return ProfileSummary{}, "", &ProviderError{Kind: ErrTokenExchangeFailed, Detail: "token response carried no access_token"}
	}

	login, loginErr := flow.adapter.CompleteLogin(ctx, client, token)
	if loginErr != nil {
		return ProfileSummary{}, "", newProviderError(ErrLoginFailed, loginErr)
	}
	login.Provider = flow.provider
	userID, upsertErr := flow.accounts.UpsertSocialLogin(ctx, login)
	if upsertErr != nil {
		return ProfileSummary{}, "", fmt.Errorf("%w: %w", ErrLoginFailed, upsertErr)
	}
	rotatedID, rotateErr := flow.rotateSession(ctx, sessionID, userID)
	if rotateErr != nil {
		return ProfileSummary{}, "", fmt.Errorf("%w: %w", ErrSessionUnavailable, rotateErr)
	}

	accounts, lookupErr := flow.accounts.FindAccounts(ctx, userID, flow.provider)
	if lookupErr != nil {
		return ProfileSummary{}, "", fmt.Errorf("%w: %w", ErrLoginFailed, lookupErr)
	}
	if len(accounts) != 1 {
		return ProfileSummary{}, "", fmt.Errorf("%w: %d accounts for user %s", ErrAccountNotUnique, len(accounts), userID)
	}
	extraData := accounts[0].ExtraData
	return ProfileSummary{
		ID:          extraString(extraData, "id"),
		AccessToken: token.Token,
		Email:       extraString(extraData, "email"),
		Name:        extraString(extraData, "name"),
		Picture:     extraString(extraData, "picture"),
	}, rotatedID, nil
}

// rotateSession binds userID to a new session id and clears the previous one. The Drive grant and
// pending state carry over only when the previous session was anonymous or already belonged to userID.
func (flow *IdentityLoginFlow) rotateSession(ctx context.Context, previousID string, userID string) (string, error) {
	rotatedID := flow.newSessionID()
	previousUserID, bound, err := flow.sessions.UserID(ctx, previousID)
	if err != nil {
		return "", err
	}
	if !bound || previousUserID == userID {
		record, credentialsErr := flow.sessions.DriveCredentials(ctx, previousID)
		if credentialsErr != nil {
			return "", credentialsErr
		}
		if record != nil {
			if err := flow.sessions.SetDriveCredentials(ctx, rotatedID, *record); err != nil {
				return "", err
			}
		}
		state, pending, stateErr := flow.sessions.DriveState(ctx, previousID)
		if stateErr != nil {
			return "", stateErr
		}
		if pending {
			if err := flow.sessions.SetDriveState(ctx, rotatedID, state); err != nil {
				return "", err
			}
		}
	} else {
		flow.logger.Info("session owner changed; dropping drive grant",
			zap.String("code", "identity.session.owner_changed"))
	}
	if err := flow.sessions.SetUserID(ctx, rotatedID, userID); err != nil {
		return "", err
	}
	if err := flow.sessions.Clear(ctx, previousID); err != nil {
		return "", err
	}
	return rotatedID, nil
}

func (flow *IdentityLoginFlow) resolveClient(ctx context.Context) (OAuthClientConfig, error) {
	clients, err := flow.clients.ClientConfigs(ctx, flow.provider)
	if err != nil {
		return OAuthClientConfig{}, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	switch len(clients) {
	case 0:
		return OAuthClientConfig{}, ErrNotConfigured
	case 1:
		return clients[0], nil
	default:
		return OAuthClientConfig{}, ErrAmbiguousConfig
	}
}

func extraString(extraData map[string]any, key string) string {
	value, ok := extraData[key]
	if !ok || value == nil {
		return ""
	}
	if text, isText := value.(string); isText {
		return text
	}
	return fmt.Sprint(value)
}
