package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/drivegate/internal/authkit"
	"go.uber.org/zap"
)

// AccountLookup resolves the provider accounts linked to a user.
type AccountLookup interface {
	FindAccounts(ctx context.Context, userID string, provider string) ([]authkit.IdentityAccount, error)
}

// HandleWhoAmI reports the signed-in user bound to the session and whether Drive is connected.
func HandleWhoAmI(sessions authkit.SessionStore, accounts AccountLookup, logger *zap.Logger) gin.HandlerFunc {
	if sessions == nil || accounts == nil {
		panic("session store and account lookup are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		sessionID, ok := authkit.SessionID(contextGin)
		if !ok {
			authkit.RespondError(contextGin, authkit.ErrSessionUnavailable)
			return
		}
		ctx := contextGin.Request.Context()
		userID, signedIn, userErr := sessions.UserID(ctx, sessionID)
		if userErr != nil {
			logger.Error("session lookup failed",
				zap.String("code", "api.me.session_error"),
				zap.Error(userErr))
			authkit.RespondError(contextGin, authkit.ErrSessionUnavailable)
			return
		}
		if !signedIn {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not signed in"})
			return
		}

		linked, lookupErr := accounts.FindAccounts(ctx, userID, authkit.GoogleProvider)
		if lookupErr != nil {
			logger.Error("account lookup failed",
				zap.String("code", "api.me.account_error"),
				zap.String("user_id", userID),
				zap.Error(lookupErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		if len(linked) == 0 {
			logger.Warn("signed-in user has no linked account",
				zap.String("code", "api.me.account_missing"),
				zap.String("user_id", userID))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not signed in"})
			return
		}

		credentials, credentialErr := sessions.DriveCredentials(ctx, sessionID)
		if credentialErr != nil {
			authkit.RespondError(contextGin, authkit.ErrSessionUnavailable)
			return
		}
		profile := linked[0].ExtraData
		contextGin.JSON(http.StatusOK, gin.H{
			"user_id":         userID,
			"email":           profileField(profile, "email"),
			"name":            profileField(profile, "name"),
			"picture":         profileField(profile, "picture"),
			"drive_connected": credentials != nil,
		})
	}
}

func profileField(profile map[string]any, key string) string {
	value, ok := profile[key]
	if !ok || value == nil {
		return ""
	}
	if text, isText := value.(string); isText {
		return text
	}
	return fmt.Sprint(value)
}
