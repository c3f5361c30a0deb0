package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/drivegate/internal/accounts"
	"github.com/tyemirov/drivegate/internal/authkit"
)

func newAddSocialAppCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add-social-app",
		Short: "Register or refresh the Google OAuth client used for identity login",
		Args:  cobra.NoArgs,
		RunE:  runAddSocialApp,
	}
}

func runAddSocialApp(command *cobra.Command, arguments []string) error {
	clientID := strings.TrimSpace(viper.GetString("google_client_id"))
	clientSecret := strings.TrimSpace(viper.GetString("google_client_secret"))
	if clientID == "" || clientSecret == "" {
		return configError(configCodeMissingGoogleClient, "google_client_id and google_client_secret must be provided")
	}

	ctx := command.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := accounts.Open(ctx, viper.GetString("database_url"))
	if err != nil {
		return err
	}
	created, err := store.EnsureClientConfig(ctx, authkit.OAuthClientConfig{
		Provider:     authkit.GoogleProvider,
		Name:         authkit.GoogleProvider,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(command.OutOrStdout(), "registered %s client %s\n", authkit.GoogleProvider, clientID)
		return nil
	}
	fmt.Fprintf(command.OutOrStdout(), "%s client already present; credentials refreshed\n", authkit.GoogleProvider)
	return nil
}
