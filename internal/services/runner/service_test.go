package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/vaultcourier/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock implementations.
type mockArchiveService struct {
	calls       []string
	archiveFunc func(ctx context.Context, dir string) (*models.ArchiveResult, error)
}

func (m *mockArchiveService) Archive(ctx context.Context, dir string) (*models.ArchiveResult, error) {
	m.calls = append(m.calls, dir)
	if m.archiveFunc != nil {
		return m.archiveFunc(ctx, dir)
	}
	return nil, errors.New("archive not configured")
}

type sendFileCall struct {
	path    string
	caption string
}

type mockTelegramService struct {
	messages     []string
	files        []sendFileCall
	reports      []string
	sendFileFunc func(ctx context.Context, path, caption string) (*models.UploadResult, error)
}

func (m *mockTelegramService) SendMessage(ctx context.Context, text string) bool {
	m.messages = append(m.messages, text)
	return true
}

func (m *mockTelegramService) SendFile(ctx context.Context, path, caption string) (*models.UploadResult, error) {
	m.files = append(m.files, sendFileCall{path: path, caption: caption})
	if m.sendFileFunc != nil {
		return m.sendFileFunc(ctx, path, caption)
	}
	return &models.UploadResult{Path: path, Success: true, Reason: "sent", Bytes: 1}, nil
}

func (m *mockTelegramService) ReportError(ctx context.Context, text string) {
	m.reports = append(m.reports, text)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// archiveInto returns an archive func that writes a placeholder zip into outDir.
func archiveInto(t *testing.T, outDir string) func(ctx context.Context, dir string) (*models.ArchiveResult, error) {
	return func(ctx context.Context, dir string) (*models.ArchiveResult, error) {
		p := writeFile(t, outDir, filepath.Base(dir)+".zip", "zip")
		return &models.ArchiveResult{Path: p, SourceDir: dir, Files: 2, SourceBytes: 2048, ArchiveBytes: 3}, nil
	}
}

func TestRun_Files_Success(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "a")
	b := writeFile(t, dir, "b.txt", "b")

	archiveSvc := &mockArchiveService{}
	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), archiveSvc, telegramSvc)

	result, err := runner.Run(context.Background(), models.TransferRequest{Files: []string{a, b}})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded())
	assert.Equal(t, 0, result.Failed())
	assert.Equal(t, []sendFileCall{{path: a}, {path: b}}, telegramSvc.files)
	assert.Empty(t, archiveSvc.calls)
	assert.Empty(t, telegramSvc.reports)
}

func TestRun_Files_CaptionEscapedForEveryFile(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "a")
	b := writeFile(t, dir, "b.txt", "b")

	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), &mockArchiveService{}, telegramSvc)

	_, err := runner.Run(context.Background(), models.TransferRequest{
		Files:   []string{a, b},
		Caption: "logs <prod> & more",
	})

	require.NoError(t, err)
	require.Len(t, telegramSvc.files, 2)
	for _, call := range telegramSvc.files {
		assert.Equal(t, "logs &lt;prod&gt; &amp; more", call.caption)
	}
}

func TestRun_Files_MissingFileIsReportedAndSkipped(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.txt")
	present := writeFile(t, dir, "present.txt", "x")

	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), &mockArchiveService{}, telegramSvc)

	result, err := runner.Run(context.Background(), models.TransferRequest{Files: []string{missing, present}})

	require.NoError(t, err)
	require.Len(t, result.Uploads, 2)
	assert.False(t, result.Uploads[0].Success)
	var nf *models.NotFoundError
	assert.True(t, errors.As(result.Uploads[0].Error, &nf))
	assert.True(t, result.Uploads[1].Success)

	assert.Equal(t, []sendFileCall{{path: present}}, telegramSvc.files)
	require.Len(t, telegramSvc.reports, 1)
	assert.Contains(t, telegramSvc.reports[0], "does not exist")
}

func TestRun_Files_DirectoryGivenAsFile(t *testing.T) {
	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), &mockArchiveService{}, telegramSvc)

	result, err := runner.Run(context.Background(), models.TransferRequest{Files: []string{t.TempDir()}})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.Empty(t, telegramSvc.files)
	assert.Len(t, telegramSvc.reports, 1)
}

func TestRun_Files_SizeLimitIsReported(t *testing.T) {
	p := writeFile(t, t.TempDir(), "big.iso", "x")

	telegramSvc := &mockTelegramService{
		sendFileFunc: func(ctx context.Context, path, caption string) (*models.UploadResult, error) {
			return nil, &models.SizeLimitError{Path: path, Size: 60 << 20, Limit: 50 << 20}
		},
	}
	runner := NewWithServices(testLogger(), &mockArchiveService{}, telegramSvc)

	result, err := runner.Run(context.Background(), models.TransferRequest{Files: []string{p}})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	var sizeErr *models.SizeLimitError
	assert.True(t, errors.As(result.Uploads[0].Error, &sizeErr))
	require.Len(t, telegramSvc.reports, 1)
	assert.Contains(t, telegramSvc.reports[0], "exceeding")
}

func TestRun_Files_UploadFailureNotReportedTwice(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.txt", "x")

	telegramSvc := &mockTelegramService{
		sendFileFunc: func(ctx context.Context, path, caption string) (*models.UploadResult, error) {
			return &models.UploadResult{Path: path, Reason: "upload failed", Error: errors.New("boom")}, nil
		},
	}
	runner := NewWithServices(testLogger(), &mockArchiveService{}, telegramSvc)

	result, err := runner.Run(context.Background(), models.TransferRequest{Files: []string{p}})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.Equal(t, "upload failed", result.Uploads[0].Reason)
	assert.Empty(t, telegramSvc.reports)
}

func TestRun_Directory_Success(t *testing.T) {
	src := t.TempDir()
	outDir := t.TempDir()

	archiveSvc := &mockArchiveService{archiveFunc: archiveInto(t, outDir)}
	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), archiveSvc, telegramSvc)

	result, err := runner.Run(context.Background(), models.TransferRequest{Directory: src})

	require.NoError(t, err)
	require.Len(t, result.Uploads, 1)
	upload := result.Uploads[0]
	assert.True(t, upload.Success)
	assert.Equal(t, models.TargetDirectory, upload.Target.Kind)

	archivePath := filepath.Join(outDir, filepath.Base(src)+".zip")
	assert.Equal(t, archivePath, upload.Path)
	assert.Equal(t, []string{src}, archiveSvc.calls)
	require.Len(t, telegramSvc.files, 1)
	assert.Equal(t, archivePath, telegramSvc.files[0].path)
	assert.Contains(t, telegramSvc.files[0].caption, "Here is the folder you requested")
	assert.Contains(t, telegramSvc.files[0].caption, "(2 files, 2.00 KB)")

	assert.NoFileExists(t, archivePath)
}

func TestRun_Directory_UserCaption(t *testing.T) {
	archiveSvc := &mockArchiveService{archiveFunc: archiveInto(t, t.TempDir())}
	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), archiveSvc, telegramSvc)

	_, err := runner.Run(context.Background(), models.TransferRequest{Directory: t.TempDir(), Caption: "backup"})

	require.NoError(t, err)
	require.Len(t, telegramSvc.files, 1)
	assert.Equal(t, "backup", telegramSvc.files[0].caption)
}

func TestRun_Directory_UploadFailureKeepsArchive(t *testing.T) {
	outDir := t.TempDir()
	archiveSvc := &mockArchiveService{archiveFunc: archiveInto(t, outDir)}
	telegramSvc := &mockTelegramService{
		sendFileFunc: func(ctx context.Context, path, caption string) (*models.UploadResult, error) {
			return &models.UploadResult{Path: path, Reason: "upload failed", Error: errors.New("timeout")}, nil
		},
	}
	runner := NewWithServices(testLogger(), archiveSvc, telegramSvc)
	src := t.TempDir()

	result, err := runner.Run(context.Background(), models.TransferRequest{Directory: src})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.FileExists(t, filepath.Join(outDir, filepath.Base(src)+".zip"))
}

func TestRun_Directory_ArchiveTooLargeKeepsArchive(t *testing.T) {
	outDir := t.TempDir()
	archiveSvc := &mockArchiveService{archiveFunc: archiveInto(t, outDir)}
	telegramSvc := &mockTelegramService{
		sendFileFunc: func(ctx context.Context, path, caption string) (*models.UploadResult, error) {
			return nil, &models.SizeLimitError{Path: path, Size: 51 << 20, Limit: 50 << 20}
		},
	}
	runner := NewWithServices(testLogger(), archiveSvc, telegramSvc)
	src := t.TempDir()

	result, err := runner.Run(context.Background(), models.TransferRequest{Directory: src})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.Len(t, telegramSvc.reports, 1)
	assert.FileExists(t, filepath.Join(outDir, filepath.Base(src)+".zip"))
}

func TestRun_Directory_ArchiveFailure(t *testing.T) {
	src := t.TempDir()
	archiveSvc := &mockArchiveService{
		archiveFunc: func(ctx context.Context, dir string) (*models.ArchiveResult, error) {
			return nil, &models.ArchiveError{Dir: dir, Err: errors.New("disk full")}
		},
	}
	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), archiveSvc, telegramSvc)

	result, err := runner.Run(context.Background(), models.TransferRequest{Directory: src})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.Empty(t, telegramSvc.files)
	require.Len(t, telegramSvc.reports, 1)
	assert.Contains(t, telegramSvc.reports[0], "disk full")
}

func TestRun_Directory_NotADirectory(t *testing.T) {
	p := writeFile(t, t.TempDir(), "file.txt", "x")
	archiveSvc := &mockArchiveService{}
	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), archiveSvc, telegramSvc)

	result, err := runner.Run(context.Background(), models.TransferRequest{Directory: p})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.Empty(t, archiveSvc.calls)
	require.Len(t, telegramSvc.reports, 1)
	assert.Contains(t, telegramSvc.reports[0], "directory")
}

func TestRun_FilesThenDirectory(t *testing.T) {
	f := writeFile(t, t.TempDir(), "a.txt", "x")
	outDir := t.TempDir()
	archiveSvc := &mockArchiveService{archiveFunc: archiveInto(t, outDir)}
	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), archiveSvc, telegramSvc)
	src := t.TempDir()

	result, err := runner.Run(context.Background(), models.TransferRequest{Files: []string{f}, Directory: src})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded())
	require.Len(t, telegramSvc.files, 2)
	assert.Equal(t, f, telegramSvc.files[0].path)
	assert.Equal(t, filepath.Join(outDir, filepath.Base(src)+".zip"), telegramSvc.files[1].path)
}

func TestRun_ContextCancelled(t *testing.T) {
	f := writeFile(t, t.TempDir(), "a.txt", "x")
	telegramSvc := &mockTelegramService{}
	runner := NewWithServices(testLogger(), &mockArchiveService{}, telegramSvc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := runner.Run(ctx, models.TransferRequest{Files: []string{f, "/missing"}})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Uploads)
	assert.Empty(t, telegramSvc.files)
	assert.Empty(t, telegramSvc.reports)
}

func TestRun_CancelledMidTargetIsNotReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telegramSvc := &mockTelegramService{
		sendFileFunc: func(ctx context.Context, path, caption string) (*models.UploadResult, error) {
			cancel()
			return nil, &models.SizeLimitError{Path: path}
		},
	}
	runner := NewWithServices(testLogger(), &mockArchiveService{}, telegramSvc)
	a := writeFile(t, t.TempDir(), "a.txt", "x")

	result, err := runner.Run(ctx, models.TransferRequest{Files: []string{a, a}})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, result.Uploads, 1)
	assert.Empty(t, telegramSvc.reports)
}

func TestRun_EmptyRequest(t *testing.T) {
	runner := NewWithServices(testLogger(), &mockArchiveService{}, &mockTelegramService{})

	result, err := runner.Run(context.Background(), models.TransferRequest{})

	require.NoError(t, err)
	assert.Empty(t, result.Uploads)
}

func TestDirectoryCaption(t *testing.T) {
	caption := directoryCaption(&models.ArchiveResult{Path: "/tmp/a&b.zip", Files: 1, SourceBytes: 1536})

	assert.Equal(t, "Here is the folder you requested:\n\n<code>a&amp;b</code> (1 file, 1.50 KB)", caption)
}
