package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/drivegate/internal/authkit"
	"github.com/tyemirov/drivegate/internal/gdrive"
	"go.uber.org/zap"
)

// UploadFormField is the multipart field carrying the uploaded file.
const UploadFormField = "file"

// FileTransfers is the Drive transfer surface used by the handlers.
type FileTransfers interface {
	Upload(ctx context.Context, sessionID string, file gdrive.UploadFile) (string, error)
	Download(ctx context.Context, sessionID string, fileID string) (gdrive.DownloadedFile, error)
}

// HandleUpload accepts a multipart upload and forwards it to Drive.
// Register it for every verb so other methods receive 405 with a JSON body.
func HandleUpload(transfers FileTransfers, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		if contextGin.Request.Method != http.MethodPost {
			authkit.RespondError(contextGin, authkit.ErrMethodNotAllowed)
			return
		}
		fileHeader, formErr := contextGin.FormFile(UploadFormField)
		if formErr != nil || fileHeader == nil || strings.TrimSpace(fileHeader.Filename) == "" {
			authkit.RespondError(contextGin, authkit.ErrNoFileProvided)
			return
		}
		sessionID, ok := authkit.SessionID(contextGin)
		if !ok {
			authkit.RespondError(contextGin, authkit.ErrSessionUnavailable)
			return
		}
		content, openErr := fileHeader.Open()
		if openErr != nil {
			logger.Error("upload payload unreadable",
				zap.String("code", "transfer.upload.open_failed"),
				zap.Error(openErr))
			authkit.RespondError(contextGin, &authkit.ProviderError{Kind: authkit.ErrUploadFailed, Detail: openErr.Error()})
			return
		}
		defer content.Close()

		fileID, uploadErr := transfers.Upload(contextGin.Request.Context(), sessionID, gdrive.UploadFile{
			Name:     fileHeader.Filename,
			MimeType: fileHeader.Header.Get("Content-Type"),
			Content:  content,
		})
		if uploadErr != nil {
			authkit.RespondError(contextGin, uploadErr)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"file_id": fileID})
	}
}

// HandleDownload streams a Drive file back as an attachment.
func HandleDownload(transfers FileTransfers, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		sessionID, ok := authkit.SessionID(contextGin)
		if !ok {
			authkit.RespondError(contextGin, authkit.ErrSessionUnavailable)
			return
		}
		fileID := strings.TrimSpace(contextGin.Param("file_id"))
		file, err := transfers.Download(contextGin.Request.Context(), sessionID, fileID)
		if err != nil {
			if !errors.Is(err, authkit.ErrNotAuthenticated) {
				logger.Warn("download failed",
					zap.String("code", "transfer.download.failed"),
					zap.String("file_id", fileID),
					zap.Error(err))
			}
			authkit.RespondError(contextGin, err)
			return
		}
		contextGin.DataFromReader(http.StatusOK, file.Size, "application/octet-stream", file.Content, map[string]string{
			"Content-Disposition": attachmentDisposition(file.Name),
		})
	}
}

// attachmentDisposition quotes name for a Content-Disposition header.
func attachmentDisposition(name string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "")
	return `attachment; filename="` + replacer.Replace(name) + `"`
}
