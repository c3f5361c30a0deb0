package authkit

import (
	"net/http"
	"time"
)

// GoogleProvider is the provider name under which Google client configs are registered.
const GoogleProvider = "google"

// ServerConfig configures the session cookie and public URL derivation.
type ServerConfig struct {
	SessionSigningKey []byte
	SessionIssuer     string
	SessionCookieName string
	CookieDomain      string
	SessionTTL        time.Duration
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
	PublicBaseURL     string
}
