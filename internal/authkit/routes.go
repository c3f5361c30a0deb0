package authkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	loginCallbackPath = "/auth/google/callback"
	driveCallbackPath = "/auth/google/drive/callback"
)

// MountAuthRoutes registers the identity login, Drive authorization and logout endpoints.
// LoadSession must run before these handlers. A successful login reissues the session cookie under a new id.
func MountAuthRoutes(router gin.IRouter, configuration ServerConfig, identity *IdentityLoginFlow, drive *DriveAuthorizationFlow, sessions SessionStore, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := NewSystemClock()

	router.GET("/auth/google/login", func(contextGin *gin.Context) {
		loginURL, err := identity.InitiateLogin(contextGin.Request.Context(), absoluteURL(contextGin.Request, configuration, loginCallbackPath))
		if err != nil {
			logger.Error("identity login initiation failed",
				zap.String("code", "identity.login.failed"),
				zap.Error(err))
			RespondError(contextGin, err)
			return
		}
		contextGin.Redirect(http.StatusFound, loginURL)
	})

	completeLogin := func(contextGin *gin.Context) {
		sessionID, ok := SessionID(contextGin)
		if !ok {
			RespondError(contextGin, ErrSessionUnavailable)
			return
		}
		if parseErr := contextGin.Request.ParseForm(); parseErr != nil {
			logger.Warn("identity callback malformed",
				zap.String("code", "identity.callback.malformed"),
				zap.Error(parseErr))
			RespondError(contextGin, newProviderError(ErrMalformedCallback, parseErr))
			return
		}
		params := contextGin.Request.Form
		summary, rotatedID, err := identity.CompleteLogin(contextGin.Request.Context(), sessionID, params.Get("code"), params, absoluteURL(contextGin.Request, configuration, loginCallbackPath))
		if err != nil {
			RespondError(contextGin, err)
			return
		}
		sessionToken, expiresAt, mintErr := MintSessionJWT(clock, rotatedID, configuration.SessionIssuer, configuration.SessionSigningKey, configuration.SessionTTL)
		if mintErr != nil {
			logger.Error("session mint failed",
				zap.String("code", "session.mint_failed"),
				zap.Error(mintErr))
			RespondError(contextGin, ErrSessionUnavailable)
			return
		}
		writeSessionCookie(contextGin, configuration, sessionToken, expiresAt)
		contextGin.Set(SessionContextKey, rotatedID)
		contextGin.JSON(http.StatusOK, summary)
	}
	router.GET(loginCallbackPath, completeLogin)
	router.POST(loginCallbackPath, completeLogin)

	router.GET("/auth/google/drive/connect", func(contextGin *gin.Context) {
		sessionID, ok := SessionID(contextGin)
		if !ok {
			RespondError(contextGin, ErrSessionUnavailable)
			return
		}
		consentURL, err := drive.InitiateDriveAuth(contextGin.Request.Context(), sessionID, absoluteURL(contextGin.Request, configuration, driveCallbackPath))
		if err != nil {
			logger.Error("drive connect failed",
				zap.String("code", "drive.connect.failed"),
				zap.Error(err))
			RespondError(contextGin, err)
			return
		}
		contextGin.Redirect(http.StatusFound, consentURL)
	})

	router.GET(driveCallbackPath, func(contextGin *gin.Context) {
		sessionID, ok := SessionID(contextGin)
		if !ok {
			RespondError(contextGin, ErrSessionUnavailable)
			return
		}
		status, err := drive.CompleteDriveAuth(
			contextGin.Request.Context(),
			sessionID,
			contextGin.Query("state"),
			absoluteURL(contextGin.Request, configuration, driveCallbackPath),
			absoluteURL(contextGin.Request, configuration, contextGin.Request.URL.RequestURI()),
		)
		if err != nil {
			RespondError(contextGin, err)
			return
		}
		contextGin.JSON(http.StatusOK, status)
	})

	router.POST("/auth/google/drive/disconnect", func(contextGin *gin.Context) {
		sessionID, ok := SessionID(contextGin)
		if !ok {
			RespondError(contextGin, ErrSessionUnavailable)
			return
		}
		if err := drive.Disconnect(contextGin.Request.Context(), sessionID); err != nil {
			RespondError(contextGin, err)
			return
		}
		contextGin.Status(http.StatusNoContent)
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		if sessionID, ok := SessionID(contextGin); ok {
			if err := sessions.Clear(contextGin.Request.Context(), sessionID); err != nil {
				logger.Warn("session clear failed",
					zap.String("code", "session.clear_failed"),
					zap.Error(err))
			}
		}
		clearCookie(contextGin, configuration)
		contextGin.Status(http.StatusNoContent)
	})
}

// absoluteURL resolves a request-relative path against the public base URL or the request host.
func absoluteURL(request *http.Request, configuration ServerConfig, requestURI string) string {
	base := strings.TrimRight(strings.TrimSpace(configuration.PublicBaseURL), "/")
	if base == "" {
		scheme := "http"
		if isHTTPS(request) {
			scheme = "https"
		}
		host := request.Host
		if host == "" {
			host = "localhost"
		}
		base = scheme + "://" + host
	}
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}
	return base + requestURI
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	scheme := request.Header.Get("X-Forwarded-Proto")
	if strings.EqualFold(scheme, "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	return false
}
