package authkit

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
)

type fakeClientStore struct {
	configs []OAuthClientConfig
	err     error
}

func (store *fakeClientStore) ClientConfigs(ctx context.Context, provider string) ([]OAuthClientConfig, error) {
	if store.err != nil {
		return nil, store.err
	}
	matched := make([]OAuthClientConfig, 0, len(store.configs))
	for _, configuration := range store.configs {
		if configuration.Provider == provider {
			matched = append(matched, configuration)
		}
	}
	return matched, nil
}

type fakeIdentityAdapter struct {
	mutex         sync.Mutex
	loginURL      string
	token         *oauth2.Token
	exchangeErr   error
	login         SocialLogin
	loginErr      error
	exchangeCalls int
	loginCalls    int
	lastCode      string
	lastRedirect  string
}

func (adapter *fakeIdentityAdapter) LoginURL(ctx context.Context, client OAuthClientConfig, redirectURI string) (string, error) {
	adapter.mutex.Lock()
	defer adapter.mutex.Unlock()
	adapter.lastRedirect = redirectURI
	return adapter.loginURL + "?client_id=" + url.QueryEscape(client.ClientID), nil
}

func (adapter *fakeIdentityAdapter) ExchangeCode(ctx context.Context, client OAuthClientConfig, code string, params url.Values, redirectURI string) (*oauth2.Token, error) {
	adapter.mutex.Lock()
	defer adapter.mutex.Unlock()
	adapter.exchangeCalls++
	adapter.lastCode = code
	adapter.lastRedirect = redirectURI
	if adapter.exchangeErr != nil {
		return nil, adapter.exchangeErr
	}
	return adapter.token, nil
}

func (adapter *fakeIdentityAdapter) CompleteLogin(ctx context.Context, client OAuthClientConfig, token NormalizedToken) (SocialLogin, error) {
	adapter.mutex.Lock()
	defer adapter.mutex.Unlock()
	adapter.loginCalls++
	if adapter.loginErr != nil {
		return SocialLogin{}, adapter.loginErr
	}
	return adapter.login, nil
}

type fakeAccountStore struct {
	mutex     sync.Mutex
	accounts  []IdentityAccount
	upsertErr error
	findErr   error
	extra     []IdentityAccount
}

func (store *fakeAccountStore) UpsertSocialLogin(ctx context.Context, login SocialLogin) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.upsertErr != nil {
		return "", store.upsertErr
	}
	for index, account := range store.accounts {
		if account.Provider == login.Provider && account.AccountID == login.AccountID {
			store.accounts[index].ExtraData = login.ExtraData
			return account.UserID, nil
		}
	}
	userID := "user-" + login.AccountID
	store.accounts = append(store.accounts, IdentityAccount{
		UserID:    userID,
		Provider:  login.Provider,
		AccountID: login.AccountID,
		ExtraData: login.ExtraData,
	})
	return userID, nil
}

func (store *fakeAccountStore) FindAccounts(ctx context.Context, userID string, provider string) ([]IdentityAccount, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.findErr != nil {
		return nil, store.findErr
	}
	var matched []IdentityAccount
	for _, account := range append(append([]IdentityAccount(nil), store.accounts...), store.extra...) {
		if account.UserID == userID && account.Provider == provider {
			matched = append(matched, account)
		}
	}
	return matched, nil
}

type fakeDriveAuthorizer struct {
	mutex         sync.Mutex
	record        CredentialRecord
	exchangeErr   error
	exchangeCalls int
	lastRedirect  string
	lastCallback  string
}

func (authorizer *fakeDriveAuthorizer) AuthorizationURL(state string, redirectURI string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state) + "&redirect_uri=" + url.QueryEscape(redirectURI)
}

func (authorizer *fakeDriveAuthorizer) Exchange(ctx context.Context, redirectURI string, callbackURL string) (CredentialRecord, error) {
	authorizer.mutex.Lock()
	defer authorizer.mutex.Unlock()
	authorizer.exchangeCalls++
	authorizer.lastRedirect = redirectURI
	authorizer.lastCallback = callbackURL
	if authorizer.exchangeErr != nil {
		return CredentialRecord{}, authorizer.exchangeErr
	}
	return authorizer.record, nil
}

func (authorizer *fakeDriveAuthorizer) calls() int {
	authorizer.mutex.Lock()
	defer authorizer.mutex.Unlock()
	return authorizer.exchangeCalls
}

type failingSessionStore struct {
	*MemorySessionStore
}

var errSessionBackend = errors.New("session backend offline")

func (store failingSessionStore) SetUserID(ctx context.Context, sessionID string, userID string) error {
	return errSessionBackend
}

func (store failingSessionStore) SetDriveState(ctx context.Context, sessionID string, state string) error {
	return errSessionBackend
}
