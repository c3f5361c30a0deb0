package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// LoginScopes are requested by the identity login grant.
var LoginScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

var (
	errLoginStateMissing  = errors.New("login state missing from callback")
	errProfileMismatch    = errors.New("id token subject does not match profile id")
	errUnverifiedEmail    = errors.New("google account email is not verified")
	errProfileMissingID   = errors.New("google profile carried no id")
	errValidatorRequired  = errors.New("id token validator is required")
	errNonceStoreRequired = errors.New("nonce store is required")
)

// GoogleTokenValidator validates Google-issued ID tokens.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// NewGoogleTokenValidator constructs the production ID token validator.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, err
	}
	return validator, nil
}

// ProfileFetcher loads the signed-in user's profile with an access token.
type ProfileFetcher func(ctx context.Context, token NormalizedToken) (*oauth2api.Userinfo, error)

// FetchGoogleUserinfo calls the Google userinfo endpoint.
func FetchGoogleUserinfo(ctx context.Context, token NormalizedToken) (*oauth2api.Userinfo, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Token, TokenType: token.TokenType})
	service, err := oauth2api.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("userinfo.client: %w", err)
	}
	info, err := service.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("userinfo.get: %w", err)
	}
	return info, nil
}

// GoogleIdentityProviderConfig configures the Google identity adapter.
type GoogleIdentityProviderConfig struct {
	Nonces     NonceStore
	Validator  GoogleTokenValidator
	Profiles   ProfileFetcher
	Endpoint   oauth2.Endpoint
	HTTPClient *http.Client
}

// GoogleIdentityProvider implements IdentityProvider for Google sign-in.
type GoogleIdentityProvider struct {
	nonces     NonceStore
	validator  GoogleTokenValidator
	profiles   ProfileFetcher
	endpoint   oauth2.Endpoint
	httpClient *http.Client
}

// NewGoogleIdentityProvider constructs the adapter. The nonce store binds the login leg's state parameter.
func NewGoogleIdentityProvider(configuration GoogleIdentityProviderConfig) (*GoogleIdentityProvider, error) {
	if configuration.Nonces == nil {
		return nil, fmt.Errorf("identity.google.new: %w", errNonceStoreRequired)
	}
	if configuration.Validator == nil {
		return nil, fmt.Errorf("identity.google.new: %w", errValidatorRequired)
	}
	provider := &GoogleIdentityProvider{
		nonces:     configuration.Nonces,
		validator:  configuration.Validator,
		profiles:   configuration.Profiles,
		endpoint:   configuration.Endpoint,
		httpClient: configuration.HTTPClient,
	}
	if provider.profiles == nil {
		provider.profiles = FetchGoogleUserinfo
	}
	if provider.endpoint.AuthURL == "" && provider.endpoint.TokenURL == "" {
		provider.endpoint = google.Endpoint
	}
	return provider, nil
}

// LoginURL issues a one-time nonce and embeds it as the state of the hosted login URL.
func (provider *GoogleIdentityProvider) LoginURL(ctx context.Context, client OAuthClientConfig, redirectURI string) (string, error) {
	nonce, err := provider.nonces.Issue(ctx)
	if err != nil {
		return "", fmt.Errorf("identity.google.nonce: %w", err)
	}
	return provider.oauthConfig(client, redirectURI).AuthCodeURL(nonce, oauth2.AccessTypeOnline), nil
}

// ExchangeCode consumes the login nonce and exchanges the code for a token.
func (provider *GoogleIdentityProvider) ExchangeCode(ctx context.Context, client OAuthClientConfig, code string, params url.Values, redirectURI string) (*oauth2.Token, error) {
	state := strings.TrimSpace(params.Get("state"))
	if state == "" {
		return nil, errLoginStateMissing
	}
	if consumeErr := provider.nonces.Consume(ctx, state); consumeErr != nil {
		return nil, fmt.Errorf("login state rejected: %w", consumeErr)
	}
	if provider.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, provider.httpClient)
	}
	token, err := provider.oauthConfig(client, redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// CompleteLogin validates the ID token when present and loads the profile cache for the account.
func (provider *GoogleIdentityProvider) CompleteLogin(ctx context.Context, client OAuthClientConfig, token NormalizedToken) (SocialLogin, error) {
	var payload *idtoken.Payload
	if token.IDToken != "" {
		validated, validateErr := provider.validator.Validate(ctx, token.IDToken, client.ClientID)
		if validateErr != nil {
			return SocialLogin{}, fmt.Errorf("id token rejected: %w", validateErr)
		}
		payload = validated
	}
	info, fetchErr := provider.profiles(ctx, token)
	if fetchErr != nil {
		return SocialLogin{}, fetchErr
	}
	if info == nil || strings.TrimSpace(info.Id) == "" {
		return SocialLogin{}, errProfileMissingID
	}
	if payload != nil && payload.Subject != info.Id {
		return SocialLogin{}, errProfileMismatch
	}
	if info.VerifiedEmail != nil && !*info.VerifiedEmail {
		return SocialLogin{}, errUnverifiedEmail
	}
	extraData := map[string]any{
		"id":          info.Id,
		"email":       info.Email,
		"name":        info.Name,
		"given_name":  info.GivenName,
		"family_name": info.FamilyName,
		"picture":     info.Picture,
		"locale":      info.Locale,
	}
	if info.VerifiedEmail != nil {
		extraData["verified_email"] = *info.VerifiedEmail
	}
	return SocialLogin{
		Provider:  GoogleProvider,
		AccountID: info.Id,
		Email:     info.Email,
		ExtraData: extraData,
	}, nil
}

func (provider *GoogleIdentityProvider) oauthConfig(client OAuthClientConfig, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Endpoint:     provider.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       append([]string(nil), LoginScopes...),
	}
}
