package authkit

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/drivegate/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// SessionContextKey is the gin context key holding the resolved session id.
const SessionContextKey = "session_id"

// LoadSession resolves the session cookie into a session id, minting a fresh session when the cookie is absent or invalid.
func LoadSession(configuration ServerConfig, validator *sessionvalidator.Validator, clock Clock, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return func(contextGin *gin.Context) {
		claims, validateErr := validator.ValidateRequest(contextGin.Request)
		if validateErr == nil {
			contextGin.Set(SessionContextKey, claims.GetSessionID())
			contextGin.Next()
			return
		}

		sessionID := NewSessionID()
		sessionToken, expiresAt, mintErr := MintSessionJWT(clock, sessionID, configuration.SessionIssuer, configuration.SessionSigningKey, configuration.SessionTTL)
		if mintErr != nil {
			logger.Error("session mint failed",
				zap.String("code", "session.mint_failed"),
				zap.Error(mintErr))
			RespondError(contextGin, ErrSessionUnavailable)
			return
		}
		writeSessionCookie(contextGin, configuration, sessionToken, expiresAt)
		contextGin.Set(SessionContextKey, sessionID)
		contextGin.Next()
	}
}

// SessionID returns the session id resolved by LoadSession.
func SessionID(contextGin *gin.Context) (string, bool) {
	value, exists := contextGin.Get(SessionContextKey)
	if !exists {
		return "", false
	}
	sessionID, ok := value.(string)
	if !ok || strings.TrimSpace(sessionID) == "" {
		return "", false
	}
	return sessionID, true
}

func writeSessionCookie(contextGin *gin.Context, configuration ServerConfig, sessionToken string, expiresAt time.Time) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func clearCookie(contextGin *gin.Context, configuration ServerConfig) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
