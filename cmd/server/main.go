package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/drivegate/internal/accounts"
	"github.com/tyemirov/drivegate/internal/authkit"
	"github.com/tyemirov/drivegate/internal/authkitpg"
	"github.com/tyemirov/drivegate/internal/gdrive"
	"github.com/tyemirov/drivegate/internal/web"
	"github.com/tyemirov/drivegate/pkg/sessionvalidator"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (authkit.GoogleTokenValidator, error) {
	return authkit.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "drivegate",
		Short:   "Google sign-in with a separate Drive grant and a Drive upload/download proxy",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.PersistentFlags().String("database_url", "sqlite:drivegate.db", "Database URL for users, linked accounts and OAuth client configs (postgres:// or sqlite:)")
	rootCmd.PersistentFlags().String("google_client_id", "", "Google OAuth client ID registered by add-social-app")
	rootCmd.PersistentFlags().String("google_client_secret", "", "Google OAuth client secret registered by add-social-app")

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("session_signing_key", "", "HS256 secret for the session cookie")
	rootCmd.Flags().Duration("session_ttl", 24*time.Hour, "Session lifetime")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("session_store", sessionStoreMemory, "Session backend: memory, database or postgres")
	rootCmd.Flags().String("session_database_url", "", "Database URL for the session backend; defaults to database_url")
	rootCmd.Flags().String("google_client_secrets_json", "", "Client-secrets JSON of the Drive OAuth client; Drive endpoints are disabled when empty")
	rootCmd.Flags().String("public_base_url", "", "External base URL used to build OAuth callback URLs; derived from the request when empty")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (switches the cookie to SameSite=None)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Duration("nonce_ttl", defaultNonceTTL, "Lifetime of the identity login state nonce")
	rootCmd.Flags().Int("rate_limit_per_minute", 120, "Requests per minute per client on auth and transfer endpoints; 0 disables")
	rootCmd.Flags().StringSlice("trusted_proxies", []string{}, "Proxy IPs or CIDRs whose X-Forwarded-For is honored for client addresses; empty trusts none")
	rootCmd.Flags().Int("upload_chunk_size", gdrive.DefaultUploadChunkSize, "Resumable upload chunk size in bytes")
	rootCmd.Flags().Int64("download_chunk_size", gdrive.DefaultDownloadChunkSize, "Ranged download chunk size in bytes")

	for _, name := range []string{"database_url", "google_client_id", "google_client_secret"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	for _, name := range []string{
		"listen_addr", "cookie_domain", "session_signing_key", "session_ttl", "dev_insecure_http",
		"session_store", "session_database_url", "google_client_secrets_json", "public_base_url",
		"enable_cors", "cors_allowed_origins", "nonce_ttl", "rate_limit_per_minute",
		"trusted_proxies", "upload_chunk_size", "download_chunk_size",
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newAddSocialAppCommand())
	return rootCmd
}

const (
	sessionIssuer   = "drivegate"
	defaultNonceTTL = 10 * time.Minute

	sessionStoreMemory   = "memory"
	sessionStoreDatabase = "database"
	sessionStorePostgres = "postgres"

	configCodeMissingSigningKey       = "config.missing_session_signing_key"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidSessionStore     = "config.invalid_session_store"
	configCodeInvalidRateLimit        = "config.invalid_rate_limit"
	configCodeInvalidTrustedProxies   = "config.invalid_trusted_proxies"
	configCodeInvalidPublicBaseURL    = "config.invalid_public_base_url"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
	configCodeDriveClientSecrets      = "config.invalid_google_client_secrets_json"
	configCodeMissingGoogleClient     = "config.missing_google_client"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig validates the viper-bound settings the HTTP server cannot start without.
func LoadServerConfig() (authkit.ServerConfig, error) {
	signingKey := viper.GetString("session_signing_key")
	if signingKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingSigningKey, "session_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	switch sessionStoreKind() {
	case sessionStoreMemory, sessionStoreDatabase, sessionStorePostgres:
	default:
		return authkit.ServerConfig{}, configError(configCodeInvalidSessionStore, "session_store must be one of memory, database, postgres")
	}

	if viper.GetInt("rate_limit_per_minute") < 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRateLimit, "rate_limit_per_minute must not be negative")
	}

	publicBaseURL := strings.TrimRight(strings.TrimSpace(viper.GetString("public_base_url")), "/")
	if publicBaseURL != "" && !strings.HasPrefix(publicBaseURL, "http://") && !strings.HasPrefix(publicBaseURL, "https://") {
		return authkit.ServerConfig{}, configError(configCodeInvalidPublicBaseURL, "public_base_url must start with http:// or https://")
	}

	return authkit.ServerConfig{
		SessionSigningKey: []byte(signingKey),
		SessionIssuer:     sessionIssuer,
		SessionCookieName: sessionvalidator.DefaultCookieName,
		CookieDomain:      viper.GetString("cookie_domain"),
		SessionTTL:        sessionTTL,
		PublicBaseURL:     publicBaseURL,
	}, nil
}

func sessionStoreKind() string {
	kind := strings.ToLower(strings.TrimSpace(viper.GetString("session_store")))
	if kind == "" {
		return sessionStoreMemory
	}
	return kind
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	serverConfig.AllowInsecureHTTP = viper.GetBool("dev_insecure_http")
	// The OAuth callbacks arrive as cross-site top-level navigations.
	serverConfig.SameSiteMode = http.SameSiteLaxMode
	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	accountStore, accountsErr := accounts.Open(commandContext, databaseURL)
	if accountsErr != nil {
		return accountsErr
	}
	logger.Info("using account store", zap.String("driver", accountStore.Driver()))

	sessionStore, closeSessions, sessionsErr := buildSessionStore(commandContext, logger, serverConfig.SessionTTL)
	if sessionsErr != nil {
		return sessionsErr
	}
	defer closeSessions()

	tokenValidator, validatorErr := buildGoogleTokenValidator(commandContext)
	if validatorErr != nil {
		return fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
	}

	clock := authkit.NewSystemClock()
	metricsRecorder := authkit.NewCounterMetrics()

	nonceTTL := defaultNonceTTL
	if configuredNonceTTL := viper.GetDuration("nonce_ttl"); configuredNonceTTL > 0 {
		nonceTTL = configuredNonceTTL
	}
	identityProvider, providerErr := authkit.NewGoogleIdentityProvider(authkit.GoogleIdentityProviderConfig{
		Nonces:    authkit.NewMemoryNonceStore(nonceTTL, clock),
		Validator: tokenValidator,
	})
	if providerErr != nil {
		return providerErr
	}
	identityFlow, identityErr := authkit.NewIdentityLoginFlow(authkit.IdentityLoginFlowConfig{
		Provider: authkit.GoogleProvider,
		Clients:  accountStore,
		Adapter:  identityProvider,
		Accounts: accountStore,
		Sessions: sessionStore,
		Clock:    clock,
		Metrics:  metricsRecorder,
		Logger:   logger,
	})
	if identityErr != nil {
		return identityErr
	}

	driveAuthorizer, authorizerErr := buildDriveAuthorizer(viper.GetString("google_client_secrets_json"), logger)
	if authorizerErr != nil {
		return authorizerErr
	}
	driveFlow, driveErr := authkit.NewDriveAuthorizationFlow(authkit.DriveAuthorizationFlowConfig{
		Authorizer: driveAuthorizer,
		Sessions:   sessionStore,
		Metrics:    metricsRecorder,
		Logger:     logger,
	})
	if driveErr != nil {
		return driveErr
	}

	gateway, gatewayErr := gdrive.NewGateway(gdrive.GatewayConfig{
		Sessions: sessionStore,
		Services: gdrive.NewGoogleServiceFactory(gdrive.GoogleServiceOptions{
			UploadChunkSize: viper.GetInt("upload_chunk_size"),
		}),
		DownloadChunkSize: viper.GetInt64("download_chunk_size"),
		Metrics:           metricsRecorder,
		Logger:            logger,
	})
	if gatewayErr != nil {
		return gatewayErr
	}

	sessionValidator, sessionValidatorErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: serverConfig.SessionSigningKey,
		Issuer:     serverConfig.SessionIssuer,
		CookieName: serverConfig.SessionCookieName,
	})
	if sessionValidatorErr != nil {
		return sessionValidatorErr
	}

	var rateLimitStore limiter.Store
	if perMinute := viper.GetInt("rate_limit_per_minute"); perMinute > 0 {
		store, rateErr := web.NewRateLimitStore(perMinute)
		if rateErr != nil {
			return rateErr
		}
		rateLimitStore = store
		defer func() { _ = web.CloseRateLimitStore(context.Background(), rateLimitStore) }()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	if proxyErr := router.SetTrustedProxies(viper.GetStringSlice("trusted_proxies")); proxyErr != nil {
		return fmt.Errorf("%s: %w", configCodeInvalidTrustedProxies, proxyErr)
	}
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}
	router.Use(authkit.LoadSession(serverConfig, sessionValidator, clock, logger))

	limited := router.Group("", web.RateLimit(rateLimitStore, logger))
	authkit.MountAuthRoutes(limited, serverConfig, identityFlow, driveFlow, sessionStore, logger)
	limited.Any("/upload", web.HandleUpload(gateway, logger))
	limited.GET("/download/:file_id", web.HandleDownload(gateway, logger))
	router.GET("/me", web.HandleWhoAmI(sessionStore, accountStore, logger))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	serveErr := serveHTTP(server)
	logger.Info("metrics", zap.Any("counters", metricsRecorder.Snapshot()))
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", serveErr)
	}
	return nil
}

// buildSessionStore selects the session backend; the returned func releases its resources.
func buildSessionStore(ctx context.Context, logger *zap.Logger, ttl time.Duration) (authkit.SessionStore, func(), error) {
	sessionDatabaseURL := viper.GetString("session_database_url")
	if sessionDatabaseURL == "" {
		sessionDatabaseURL = viper.GetString("database_url")
	}
	switch sessionStoreKind() {
	case sessionStoreDatabase:
		store, err := authkit.NewDatabaseSessionStore(ctx, sessionDatabaseURL, ttl)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using database session store", zap.String("driver", store.Driver()))
		return store, func() {}, nil
	case sessionStorePostgres:
		pool, err := authkitpg.BuildPool(ctx, sessionDatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if schemaErr := authkitpg.EnsureSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return nil, nil, schemaErr
		}
		logger.Info("using postgres session store")
		return authkitpg.NewPostgresSessionStore(pool, ttl), pool.Close, nil
	default:
		logger.Info("using in-memory session store")
		return authkit.NewMemorySessionStore(ttl), func() {}, nil
	}
}

// buildDriveAuthorizer returns nil when no client secrets are configured.
func buildDriveAuthorizer(clientSecretsJSON string, logger *zap.Logger) (authkit.DriveAuthorizer, error) {
	if strings.TrimSpace(clientSecretsJSON) == "" {
		logger.Warn("drive authorization disabled", zap.String("code", "config.drive_not_configured"))
		return nil, nil
	}
	authorizer, err := authkit.NewGoogleDriveAuthorizer([]byte(clientSecretsJSON), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configCodeDriveClientSecrets, err)
	}
	return authorizer, nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
