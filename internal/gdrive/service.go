// Package gdrive moves file bytes between the caller and the signed-in user's Google Drive.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tyemirov/drivegate/internal/authkit"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultUploadChunkSize matches the resumable upload chunk size of the Drive client.
const DefaultUploadChunkSize = googleapi.DefaultUploadChunkSize

var errMalformedContentRange = errors.New("gdrive.content_range.malformed")

// FileMetadata is the subset of Drive file metadata the gateway needs.
type FileMetadata struct {
	Name string
	Size int64
}

// Service is the Drive surface the gateway drives.
type Service interface {
	Create(ctx context.Context, name string, mimeType string, content io.Reader) (string, error)
	Metadata(ctx context.Context, fileID string) (FileMetadata, error)
	// DownloadChunk copies up to size bytes starting at offset into destination.
	// total is the full file length when the server reports it, otherwise -1.
	DownloadChunk(ctx context.Context, fileID string, offset int64, size int64, destination io.Writer) (written int64, total int64, err error)
}

// ServiceFactory builds a Service bound to one session's Drive grant.
type ServiceFactory func(ctx context.Context, record authkit.CredentialRecord) (Service, error)

// GoogleServiceOptions configures the Drive v3 backed Service.
type GoogleServiceOptions struct {
	UploadChunkSize int
	// ClientOptions are appended after the token source, e.g. option.WithEndpoint in tests.
	ClientOptions []option.ClientOption
}

// NewGoogleServiceFactory returns a factory that refreshes the stored grant through its token endpoint.
func NewGoogleServiceFactory(options GoogleServiceOptions) ServiceFactory {
	chunkSize := options.UploadChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultUploadChunkSize
	}
	return func(ctx context.Context, record authkit.CredentialRecord) (Service, error) {
		tokenSource := record.OAuth2Config().TokenSource(ctx, record.OAuth2Token())
		clientOptions := append([]option.ClientOption{option.WithTokenSource(tokenSource)}, options.ClientOptions...)
		service, err := drive.NewService(ctx, clientOptions...)
		if err != nil {
			return nil, fmt.Errorf("gdrive.client: %w", err)
		}
		return &GoogleService{files: service.Files, uploadChunkSize: chunkSize}, nil
	}
}

// GoogleService implements Service with the Drive v3 API.
type GoogleService struct {
	files           *drive.FilesService
	uploadChunkSize int
}

// Create uploads content as a new file and returns only its id.
func (service *GoogleService) Create(ctx context.Context, name string, mimeType string, content io.Reader) (string, error) {
	metadata := &drive.File{Name: name, MimeType: mimeType}
	created, err := service.files.Create(metadata).
		Media(content, googleapi.ContentType(mimeType), googleapi.ChunkSize(service.uploadChunkSize)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// Metadata reads the file name and size.
func (service *GoogleService) Metadata(ctx context.Context, fileID string) (FileMetadata, error) {
	file, err := service.files.Get(fileID).Fields("name", "size").Context(ctx).Do()
	if err != nil {
		return FileMetadata{}, err
	}
	return FileMetadata{Name: file.Name, Size: file.Size}, nil
}

// DownloadChunk issues one ranged media request. A 416 for the first range means the file is empty.
func (service *GoogleService) DownloadChunk(ctx context.Context, fileID string, offset int64, size int64, destination io.Writer) (int64, int64, error) {
	call := service.files.Get(fileID).Context(ctx)
	call.Header().Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
	response, err := call.Download()
	if err != nil {
		var apiErr *googleapi.Error
		if offset == 0 && errors.As(err, &apiErr) && apiErr.Code == http.StatusRequestedRangeNotSatisfiable {
			return 0, 0, nil
		}
		return 0, -1, err
	}
	defer response.Body.Close()

	written, copyErr := io.Copy(destination, response.Body)
	if copyErr != nil {
		return written, -1, copyErr
	}
	if response.StatusCode != http.StatusPartialContent {
		return written, offset + written, nil
	}
	total, parseErr := parseContentRangeTotal(response.Header.Get("Content-Range"))
	if parseErr != nil {
		return written, -1, parseErr
	}
	return written, total, nil
}

// parseContentRangeTotal reads the complete length from "bytes 0-99/1234"; "*" yields -1.
func parseContentRangeTotal(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return -1, nil
	}
	separator := strings.LastIndex(header, "/")
	if !strings.HasPrefix(header, "bytes ") || separator < 0 {
		return -1, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}
	totalText := header[separator+1:]
	if totalText == "*" {
		return -1, nil
	}
	total, err := strconv.ParseInt(totalText, 10, 64)
	if err != nil || total < 0 {
		return -1, fmt.Errorf("%w: %q", errMalformedContentRange, header)
	}
	return total, nil
}
