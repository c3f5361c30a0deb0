package authkit

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

var (
	// ErrMissingCode indicates the identity callback carried no authorization code.
	ErrMissingCode = errors.New("auth.missing_code")
	// ErrNotConfigured indicates no OAuth client configuration exists for the provider.
	ErrNotConfigured = errors.New("auth.not_configured")
	// ErrAmbiguousConfig indicates more than one OAuth client configuration exists for the provider.
	ErrAmbiguousConfig = errors.New("auth.ambiguous_config")
	// ErrMalformedCallback indicates the identity callback query or form could not be parsed.
	ErrMalformedCallback = errors.New("auth.malformed_callback")
	// ErrTokenExchangeFailed wraps any transport or provider failure while exchanging a code.
	ErrTokenExchangeFailed = errors.New("auth.token_exchange_failed")
	// ErrLoginFailed indicates the provider login handshake could not be completed.
	ErrLoginFailed = errors.New("auth.login_failed")
	// ErrAccountNotUnique indicates the account lookup after login did not match exactly one row.
	ErrAccountNotUnique = errors.New("auth.account_not_unique")
	// ErrStateMismatch indicates the Drive callback state differs from the one stored in session.
	ErrStateMismatch = errors.New("drive.state_mismatch")
	// ErrDriveNotConfigured indicates no Drive client secrets were supplied at startup.
	ErrDriveNotConfigured = errors.New("drive.not_configured")
	// ErrMethodNotAllowed indicates a transfer endpoint was invoked with the wrong verb.
	ErrMethodNotAllowed = errors.New("transfer.method_not_allowed")
	// ErrNoFileProvided indicates an upload request without a file payload.
	ErrNoFileProvided = errors.New("transfer.no_file")
	// ErrNotAuthenticated indicates the session holds no Drive credentials.
	ErrNotAuthenticated = errors.New("transfer.not_authenticated")
	// ErrUploadFailed wraps a Drive upload failure.
	ErrUploadFailed = errors.New("transfer.upload_failed")
	// ErrDownloadFailed wraps a Drive metadata or content failure.
	ErrDownloadFailed = errors.New("transfer.download_failed")
	// ErrSessionUnavailable indicates the request reached a handler without a resolved session.
	ErrSessionUnavailable = errors.New("session.unavailable")
)

type errorDescriptor struct {
	sentinel error
	status   int
	message  string
}

var errorDescriptors = []errorDescriptor{
	{ErrMissingCode, http.StatusBadRequest, "Authorization code not found"},
	{ErrMalformedCallback, http.StatusBadRequest, "Malformed callback request"},
	{ErrNotConfigured, http.StatusInternalServerError, "Google OAuth is not configured"},
	{ErrAmbiguousConfig, http.StatusInternalServerError, "Multiple Google OAuth configurations found"},
	{ErrTokenExchangeFailed, http.StatusBadRequest, "Error retrieving access token"},
	{ErrLoginFailed, http.StatusInternalServerError, "Error completing Google login"},
	{ErrAccountNotUnique, http.StatusInternalServerError, "Linked Google account could not be resolved"},
	{ErrStateMismatch, http.StatusBadRequest, "Invalid state parameter"},
	{ErrDriveNotConfigured, http.StatusInternalServerError, "Google Drive is not configured"},
	{ErrMethodNotAllowed, http.StatusMethodNotAllowed, "Only POST requests are allowed"},
	{ErrNoFileProvided, http.StatusBadRequest, "No file provided"},
	{ErrNotAuthenticated, http.StatusUnauthorized, "Google Drive is not connected"},
	{ErrUploadFailed, http.StatusInternalServerError, "Upload failed"},
	{ErrDownloadFailed, http.StatusInternalServerError, "Download failed"},
	{ErrSessionUnavailable, http.StatusInternalServerError, "Session unavailable"},
}

// ProviderError carries the text reported by an external collaborator so it can be surfaced to the caller.
type ProviderError struct {
	Kind   error
	Detail string
}

func (providerError *ProviderError) Error() string {
	if providerError.Detail == "" {
		return providerError.Kind.Error()
	}
	return providerError.Kind.Error() + ": " + providerError.Detail
}

func (providerError *ProviderError) Unwrap() error {
	return providerError.Kind
}

func newProviderError(kind error, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return &ProviderError{Kind: kind, Detail: detail}
}

// ErrorStatus maps an error onto the HTTP status of its category.
func ErrorStatus(err error) int {
	for _, descriptor := range errorDescriptors {
		if errors.Is(err, descriptor.sentinel) {
			return descriptor.status
		}
	}
	return http.StatusInternalServerError
}

// ErrorMessage renders the user-facing message for an error, including provider detail when present.
func ErrorMessage(err error) string {
	message := "Internal error"
	for _, descriptor := range errorDescriptors {
		if errors.Is(err, descriptor.sentinel) {
			message = descriptor.message
			break
		}
	}
	var providerError *ProviderError
	if errors.As(err, &providerError) && providerError.Detail != "" {
		return message + ": " + providerError.Detail
	}
	return message
}

// RespondError aborts the request with a single-field JSON error body.
func RespondError(contextGin *gin.Context, err error) {
	contextGin.AbortWithStatusJSON(ErrorStatus(err), gin.H{"error": ErrorMessage(err)})
}
