package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tyemirov/drivegate/internal/authkit"
	"go.uber.org/zap/zaptest"
)

type storedFile struct {
	name     string
	mimeType string
	content  []byte
}

type fakeDrive struct {
	mutex          sync.Mutex
	files          map[string]storedFile
	createErr      error
	reportTotal    bool
	hideSize       bool
	chunkErr       error
	chunkRequests  []int64
	factoryCalls   int
	lastCredential authkit.CredentialRecord
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{files: make(map[string]storedFile), reportTotal: true}
}

func (drive *fakeDrive) factory(ctx context.Context, record authkit.CredentialRecord) (Service, error) {
	drive.mutex.Lock()
	defer drive.mutex.Unlock()
	drive.factoryCalls++
	drive.lastCredential = record
	return drive, nil
}

func (drive *fakeDrive) Create(ctx context.Context, name string, mimeType string, content io.Reader) (string, error) {
	if drive.createErr != nil {
		return "", drive.createErr
	}
	payload, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	drive.mutex.Lock()
	defer drive.mutex.Unlock()
	fileID := fmt.Sprintf("file-%d", len(drive.files)+1)
	drive.files[fileID] = storedFile{name: name, mimeType: mimeType, content: payload}
	return fileID, nil
}

func (drive *fakeDrive) Metadata(ctx context.Context, fileID string) (FileMetadata, error) {
	drive.mutex.Lock()
	defer drive.mutex.Unlock()
	file, ok := drive.files[fileID]
	if !ok {
		return FileMetadata{}, errors.New("googleapi: Error 404: File not found: " + fileID)
	}
	if drive.hideSize {
		return FileMetadata{Name: file.name}, nil
	}
	return FileMetadata{Name: file.name, Size: int64(len(file.content))}, nil
}

func (drive *fakeDrive) DownloadChunk(ctx context.Context, fileID string, offset int64, size int64, destination io.Writer) (int64, int64, error) {
	drive.mutex.Lock()
	file := drive.files[fileID]
	drive.chunkRequests = append(drive.chunkRequests, offset)
	reportTotal := drive.reportTotal
	chunkErr := drive.chunkErr
	drive.mutex.Unlock()
	if chunkErr != nil {
		return 0, -1, chunkErr
	}

	end := offset + size
	if end > int64(len(file.content)) {
		end = int64(len(file.content))
	}
	written, err := destination.Write(file.content[offset:end])
	if !reportTotal {
		return int64(written), -1, err
	}
	return int64(written), int64(len(file.content)), err
}

func driveGrant() authkit.CredentialRecord {
	return authkit.CredentialRecord{
		AccessToken:   "T1",
		RefreshToken:  "R1",
		TokenEndpoint: "https://x/token",
		ClientID:      "C",
		ClientSecret:  "S",
		Scopes:        []string{"drive"},
	}
}

func newGatewayForTest(t *testing.T, drive *fakeDrive, chunkSize int64) (*Gateway, *authkit.MemorySessionStore, *authkit.CounterMetrics) {
	t.Helper()
	sessions := authkit.NewMemorySessionStore(time.Hour)
	metrics := authkit.NewCounterMetrics()
	gateway, err := NewGateway(GatewayConfig{
		Sessions:          sessions,
		Services:          drive.factory,
		DownloadChunkSize: chunkSize,
		Metrics:           metrics,
		Logger:            zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gateway, sessions, metrics
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	t.Parallel()
	drive := newFakeDrive()
	gateway, sessions, metrics := newGatewayForTest(t, drive, 4)
	if err := sessions.SetDriveCredentials(context.Background(), "session-1", driveGrant()); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}
	content := []byte("%PDF-1.7 quarterly report")

	fileID, err := gateway.Upload(context.Background(), "session-1", UploadFile{Name: "report.pdf", MimeType: "application/pdf", Content: bytes.NewReader(content)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if drive.files[fileID].mimeType != "application/pdf" {
		t.Fatalf("expected mime type preserved, got %s", drive.files[fileID].mimeType)
	}
	if diff := cmp.Diff(driveGrant(), drive.lastCredential); diff != "" {
		t.Fatalf("service built from unexpected grant (-want +got):\n%s", diff)
	}

	downloaded, err := gateway.Download(context.Background(), "session-1", fileID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if downloaded.Name != "report.pdf" || downloaded.Size != int64(len(content)) {
		t.Fatalf("unexpected download %+v", downloaded)
	}
	payload, _ := io.ReadAll(downloaded.Content)
	if !bytes.Equal(payload, content) {
		t.Fatalf("expected identical bytes, got %q", payload)
	}
	expectedOffsets := []int64{0, 4, 8, 12, 16, 20, 24}
	if diff := cmp.Diff(expectedOffsets, drive.chunkRequests); diff != "" {
		t.Fatalf("unexpected chunk offsets (-want +got):\n%s", diff)
	}
	if metrics.Count(authkit.MetricDriveUploadSuccess) != 1 || metrics.Count(authkit.MetricDriveDownloadSuccess) != 1 {
		t.Fatalf("expected transfer success metrics, got %v", metrics.Snapshot())
	}
}

func TestDownloadWithoutReportedTotalUsesMetadataSize(t *testing.T) {
	t.Parallel()
	drive := newFakeDrive()
	drive.reportTotal = false
	drive.files["file-1"] = storedFile{name: "notes.txt", content: []byte("0123456789")}
	gateway, sessions, _ := newGatewayForTest(t, drive, 3)
	if err := sessions.SetDriveCredentials(context.Background(), "session-1", driveGrant()); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}

	downloaded, err := gateway.Download(context.Background(), "session-1", "file-1")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	payload, _ := io.ReadAll(downloaded.Content)
	if string(payload) != "0123456789" {
		t.Fatalf("unexpected content %q", payload)
	}
}

func TestDownloadEmptyFileConfirmedByServer(t *testing.T) {
	t.Parallel()
	drive := newFakeDrive()
	drive.files["file-1"] = storedFile{name: "empty.txt"}
	gateway, sessions, _ := newGatewayForTest(t, drive, 3)
	if err := sessions.SetDriveCredentials(context.Background(), "session-1", driveGrant()); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}

	downloaded, err := gateway.Download(context.Background(), "session-1", "file-1")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if downloaded.Size != 0 || downloaded.Name != "empty.txt" {
		t.Fatalf("unexpected download %+v", downloaded)
	}
	if diff := cmp.Diff([]int64{0}, drive.chunkRequests); diff != "" {
		t.Fatalf("expected one content request (-want +got):\n%s", diff)
	}
}

func TestDownloadNonDownloadableFileFails(t *testing.T) {
	t.Parallel()
	drive := newFakeDrive()
	drive.files["doc-1"] = storedFile{name: "Quarterly plan"}
	drive.chunkErr = errors.New("googleapi: Error 403: Only files with binary content can be downloaded. Use Export with Docs Editors files., fileNotDownloadable")
	gateway, sessions, metrics := newGatewayForTest(t, drive, 3)
	if err := sessions.SetDriveCredentials(context.Background(), "session-1", driveGrant()); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}

	_, err := gateway.Download(context.Background(), "session-1", "doc-1")
	if !errors.Is(err, authkit.ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if !strings.Contains(authkit.ErrorMessage(err), "fileNotDownloadable") {
		t.Fatalf("expected provider detail, got %q", authkit.ErrorMessage(err))
	}
	if len(drive.chunkRequests) != 1 {
		t.Fatalf("expected the content request to be attempted, got %v", drive.chunkRequests)
	}
	if metrics.Count(authkit.MetricDriveDownloadFailure) != 1 {
		t.Fatalf("expected download failure metric")
	}
}

func TestDownloadWithoutSizeReadsUntilShortChunk(t *testing.T) {
	t.Parallel()
	drive := newFakeDrive()
	drive.reportTotal = false
	drive.hideSize = true
	drive.files["file-1"] = storedFile{name: "stream.bin", content: []byte("abcdefg")}
	gateway, sessions, _ := newGatewayForTest(t, drive, 3)
	if err := sessions.SetDriveCredentials(context.Background(), "session-1", driveGrant()); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}

	downloaded, err := gateway.Download(context.Background(), "session-1", "file-1")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	payload, _ := io.ReadAll(downloaded.Content)
	if string(payload) != "abcdefg" {
		t.Fatalf("unexpected content %q", payload)
	}
	if diff := cmp.Diff([]int64{0, 3, 6}, drive.chunkRequests); diff != "" {
		t.Fatalf("unexpected chunk offsets (-want +got):\n%s", diff)
	}
}

func TestTransfersRequireCredentials(t *testing.T) {
	t.Parallel()
	drive := newFakeDrive()
	gateway, _, _ := newGatewayForTest(t, drive, 0)

	if _, err := gateway.Upload(context.Background(), "session-1", UploadFile{Name: "a.txt", Content: strings.NewReader("a")}); !errors.Is(err, authkit.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated on upload, got %v", err)
	}
	if _, err := gateway.Download(context.Background(), "session-1", "file-1"); !errors.Is(err, authkit.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated on download, got %v", err)
	}
	if drive.factoryCalls != 0 {
		t.Fatalf("expected no service construction without credentials")
	}
}

func TestUploadSurfacesProviderError(t *testing.T) {
	t.Parallel()
	drive := newFakeDrive()
	drive.createErr = errors.New("googleapi: Error 403: The user's Drive storage quota has been exceeded")
	gateway, sessions, metrics := newGatewayForTest(t, drive, 0)
	if err := sessions.SetDriveCredentials(context.Background(), "session-1", driveGrant()); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}

	_, err := gateway.Upload(context.Background(), "session-1", UploadFile{Name: "a.txt", Content: strings.NewReader("a")})
	if !errors.Is(err, authkit.ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	expected := "Upload failed: googleapi: Error 403: The user's Drive storage quota has been exceeded"
	if message := authkit.ErrorMessage(err); message != expected {
		t.Fatalf("unexpected message %q", message)
	}
	if metrics.Count(authkit.MetricDriveUploadFailure) != 1 {
		t.Fatalf("expected upload failure metric")
	}
}

func TestDownloadUnknownFile(t *testing.T) {
	t.Parallel()
	drive := newFakeDrive()
	gateway, sessions, _ := newGatewayForTest(t, drive, 0)
	if err := sessions.SetDriveCredentials(context.Background(), "session-1", driveGrant()); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}

	_, err := gateway.Download(context.Background(), "session-1", "missing")
	if !errors.Is(err, authkit.ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if !strings.Contains(authkit.ErrorMessage(err), "File not found") {
		t.Fatalf("expected provider detail, got %q", authkit.ErrorMessage(err))
	}
	if len(drive.chunkRequests) != 0 {
		t.Fatalf("expected no content requests after metadata failure")
	}
}

func TestUploadDefaultsMimeType(t *testing.T) {
	t.Parallel()
	drive := newFakeDrive()
	gateway, sessions, _ := newGatewayForTest(t, drive, 0)
	if err := sessions.SetDriveCredentials(context.Background(), "session-1", driveGrant()); err != nil {
		t.Fatalf("seed credentials: %v", err)
	}
	fileID, err := gateway.Upload(context.Background(), "session-1", UploadFile{Name: "blob", Content: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if drive.files[fileID].mimeType != "application/octet-stream" {
		t.Fatalf("expected default mime type, got %q", drive.files[fileID].mimeType)
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		header    string
		expected  int64
		expectErr bool
	}{
		{header: "bytes 0-99/1234", expected: 1234},
		{header: "bytes 0-99/*", expected: -1},
		{header: "", expected: -1},
		{header: "items 0-1/2", expectErr: true},
		{header: "bytes 0-99/abc", expectErr: true},
	}
	for _, testCase := range testCases {
		total, err := parseContentRangeTotal(testCase.header)
		if testCase.expectErr {
			if err == nil {
				t.Fatalf("%q: expected error", testCase.header)
			}
			continue
		}
		if err != nil || total != testCase.expected {
			t.Fatalf("%q: expected %d, got %d (%v)", testCase.header, testCase.expected, total, err)
		}
	}
}
