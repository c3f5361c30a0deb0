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
)

var (
	errEmptyClientSecrets  = errors.New("drive.client_secrets.empty")
	errCallbackMissingCode = errors.New("authorization response carried no code")
)

// GoogleDriveAuthorizer implements DriveAuthorizer from a parsed client-secrets document.
type GoogleDriveAuthorizer struct {
	base       oauth2.Config
	httpClient *http.Client
}

// NewGoogleDriveAuthorizer parses a Google client-secrets JSON document ("web" or "installed").
func NewGoogleDriveAuthorizer(clientSecretsJSON []byte, httpClient *http.Client) (*GoogleDriveAuthorizer, error) {
	if len(strings.TrimSpace(string(clientSecretsJSON))) == 0 {
		return nil, errEmptyClientSecrets
	}
	configuration, err := google.ConfigFromJSON(clientSecretsJSON, DriveScopes...)
	if err != nil {
		return nil, fmt.Errorf("drive.client_secrets.parse: %w", err)
	}
	return &GoogleDriveAuthorizer{base: *configuration, httpClient: httpClient}, nil
}

// AuthorizationURL requests offline access and forces the consent screen so a refresh token is reissued.
func (authorizer *GoogleDriveAuthorizer) AuthorizationURL(state string, redirectURI string) string {
	return authorizer.configFor(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange reads the code from the callback URL and trades it for a credential record.
func (authorizer *GoogleDriveAuthorizer) Exchange(ctx context.Context, redirectURI string, callbackURL string) (CredentialRecord, error) {
	parsed, parseErr := url.Parse(callbackURL)
	if parseErr != nil {
		return CredentialRecord{}, fmt.Errorf("callback url: %w", parseErr)
	}
	query := parsed.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		if description := query.Get("error_description"); description != "" {
			return CredentialRecord{}, fmt.Errorf("%s: %s", providerErr, description)
		}
		return CredentialRecord{}, errors.New(providerErr)
	}
	code := query.Get("code")
	if code == "" {
		return CredentialRecord{}, errCallbackMissingCode
	}

	if authorizer.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, authorizer.httpClient)
	}
	configuration := authorizer.configFor(redirectURI)
	token, exchangeErr := configuration.Exchange(ctx, code)
	if exchangeErr != nil {
		return CredentialRecord{}, exchangeErr
	}
	scopes := configuration.Scopes
	if granted, ok := token.Extra("scope").(string); ok && strings.TrimSpace(granted) != "" {
		scopes = strings.Fields(granted)
	}
	return CredentialRecord{
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		TokenEndpoint: configuration.Endpoint.TokenURL,
		ClientID:      configuration.ClientID,
		ClientSecret:  configuration.ClientSecret,
		Scopes:        append([]string(nil), scopes...),
	}, nil
}

func (authorizer *GoogleDriveAuthorizer) configFor(redirectURI string) *oauth2.Config {
	configuration := authorizer.base
	configuration.RedirectURL = redirectURI
	configuration.Scopes = append([]string(nil), authorizer.base.Scopes...)
	return &configuration
}
