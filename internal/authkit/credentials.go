package authkit

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const defaultTokenType = "Bearer"

// CredentialRecord is the materialized Drive grant kept in session.
// RefreshToken is empty when the provider did not reissue one.
type CredentialRecord struct {
	AccessToken   string   `json:"token"`
	RefreshToken  string   `json:"refresh_token,omitempty"`
	TokenEndpoint string   `json:"token_uri"`
	ClientID      string   `json:"client_id"`
	ClientSecret  string   `json:"client_secret"`
	Scopes        []string `json:"scopes"`
}

// HasRefreshToken reports whether the grant can be silently renewed.
func (record CredentialRecord) HasRefreshToken() bool {
	return strings.TrimSpace(record.RefreshToken) != ""
}

// OAuth2Config rebuilds the client configuration that issued the record.
func (record CredentialRecord) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     record.ClientID,
		ClientSecret: record.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: record.TokenEndpoint},
		Scopes:       append([]string(nil), record.Scopes...),
	}
}

// OAuth2Token converts the record into a token usable by an oauth2 token source.
func (record CredentialRecord) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  record.AccessToken,
		TokenType:    defaultTokenType,
		RefreshToken: record.RefreshToken,
	}
}

// NormalizedToken is the statically shaped view of an identity token response.
type NormalizedToken struct {
	Token     string
	TokenType string
	ExpiresIn int64
	IDToken   string
}

// NormalizeToken shapes a provider token response. ok is false when no access token is present.
func NormalizeToken(token *oauth2.Token, now time.Time) (NormalizedToken, bool) {
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return NormalizedToken{}, false
	}
	tokenType := strings.TrimSpace(token.TokenType)
	if tokenType == "" {
		tokenType = defaultTokenType
	}
	var expiresIn int64
	if !token.Expiry.IsZero() {
		expiresIn = int64(token.Expiry.Sub(now).Seconds())
		if expiresIn < 0 {
			expiresIn = 0
		}
	}
	idToken, _ := token.Extra("id_token").(string)
	return NormalizedToken{
		Token:     token.AccessToken,
		TokenType: tokenType,
		ExpiresIn: expiresIn,
		IDToken:   idToken,
	}, true
}
