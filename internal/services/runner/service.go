// Package runner orchestrates the transfer workflow.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/vaultcourier/internal/models"
	"github.com/fgeck/vaultcourier/internal/progress"
	"github.com/fgeck/vaultcourier/internal/services/archive"
	"github.com/fgeck/vaultcourier/internal/services/telegram"
	"github.com/rs/zerolog"
)

// Service defines the interface for the transfer runner.
type Service interface {
	Run(ctx context.Context, req models.TransferRequest) (*models.RunResult, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	archiveSvc  archive.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
}

// New creates a new runner service from the loaded configuration.
func New(logger zerolog.Logger, cfg models.AppConfig) *Impl {
	telegramSvc := telegram.New(logger, cfg.Telegram).
		WithTimeouts(cfg.Transfer.MessageTimeout, cfg.Transfer.UploadTimeout).
		WithRetryPolicy(telegram.PolicyFromSettings(cfg.Retry)).
		WithProgress(progress.Logger(logger, "upload"))
	archiveSvc := archive.New(logger, cfg.Transfer.OutputDir).
		WithProgress(progress.Logger(logger, "archive"))

	return NewWithServices(logger, archiveSvc, telegramSvc)
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(logger zerolog.Logger, archiveSvc archive.Service, telegramSvc telegram.Service) *Impl {
	return &Impl{
		archiveSvc:  archiveSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
	}
}

// Notifier returns the Telegram service used for remote reports.
func (s *Impl) Notifier() telegram.Service {
	return s.telegramSvc
}

// Run sends every target of the request in turn. A failing target is logged,
// reported to the chat and skipped. The returned error is only set when the
// context is cancelled.
func (s *Impl) Run(ctx context.Context, req models.TransferRequest) (*models.RunResult, error) {
	startTime := time.Now()
	result := &models.RunResult{}
	targets := req.Targets()

	s.logger.Info().
		Int("targets", len(targets)).
		Msg("starting transfer run")

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var upload models.UploadResult
		switch target.Kind {
		case models.TargetDirectory:
			upload = s.sendDirectory(ctx, target, req.Caption)
		default:
			upload = s.sendFile(ctx, target, req.Caption)
		}
		result.Uploads = append(result.Uploads, upload)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	s.logger.Info().
		Int("succeeded", result.Succeeded()).
		Int("failed", result.Failed()).
		Dur("duration", time.Since(startTime)).
		Msg("transfer run completed")

	return result, nil
}

func (s *Impl) sendFile(ctx context.Context, target models.Target, caption string) models.UploadResult {
	upload := models.UploadResult{Target: target, Path: target.Path}

	info, err := os.Stat(target.Path)
	if err != nil || !info.Mode().IsRegular() {
		return s.fail(ctx, upload, &models.NotFoundError{Path: target.Path, Kind: models.TargetFile})
	}

	s.logger.Info().
		Str("file", target.Path).
		Int64("size", info.Size()).
		Msg("sending file")

	res, err := s.telegramSvc.SendFile(ctx, target.Path, userCaption(caption))
	if err != nil {
		return s.fail(ctx, upload, err)
	}

	return s.finish(upload, res)
}

func (s *Impl) sendDirectory(ctx context.Context, target models.Target, caption string) models.UploadResult {
	upload := models.UploadResult{Target: target, Path: target.Path}

	info, err := os.Stat(target.Path)
	if err != nil || !info.IsDir() {
		return s.fail(ctx, upload, &models.NotFoundError{Path: target.Path, Kind: models.TargetDirectory})
	}

	arch, err := s.archiveSvc.Archive(ctx, target.Path)
	if err != nil {
		return s.fail(ctx, upload, err)
	}
	upload.Path = arch.Path

	s.logger.Info().
		Str("directory", target.Path).
		Str("archive", arch.Path).
		Msg("sending directory archive")

	if caption == "" {
		caption = directoryCaption(arch)
	} else {
		caption = userCaption(caption)
	}

	res, err := s.telegramSvc.SendFile(ctx, arch.Path, caption)
	if err != nil {
		s.logger.Warn().Str("archive", arch.Path).Msg("keeping archive for inspection")
		return s.fail(ctx, upload, err)
	}

	upload = s.finish(upload, res)
	if !upload.Success {
		s.logger.Warn().Str("archive", arch.Path).Msg("keeping archive for inspection")
		return upload
	}

	if err := os.Remove(arch.Path); err != nil {
		s.logger.Warn().Err(err).Str("archive", arch.Path).Msg("failed to remove archive")
	} else {
		s.logger.Debug().Str("archive", arch.Path).Msg("archive removed")
	}

	return upload
}

// fail records a per-target failure and reports it to the chat unless the run was cancelled.
func (s *Impl) fail(ctx context.Context, upload models.UploadResult, err error) models.UploadResult {
	upload.Error = err
	upload.Reason = err.Error()

	s.logger.Error().
		Err(err).
		Str("path", upload.Target.Path).
		Str("kind", string(upload.Target.Kind)).
		Msg("transfer target failed")

	if ctx.Err() == nil {
		s.telegramSvc.ReportError(ctx, err.Error())
	}
	return upload
}

func (s *Impl) finish(upload models.UploadResult, res *models.UploadResult) models.UploadResult {
	upload.Success = res.Success
	upload.Reason = res.Reason
	upload.Bytes = res.Bytes
	upload.Duration = res.Duration
	upload.Error = res.Error

	if upload.Success {
		s.logger.Info().
			Str("path", upload.Target.Path).
			Dur("duration", upload.Duration).
			Msg("target sent")
	} else {
		s.logger.Error().
			Err(upload.Error).
			Str("path", upload.Target.Path).
			Msg("failed to send target")
	}
	return upload
}

func userCaption(caption string) string {
	return telegram.EscapeHTML(caption)
}

func directoryCaption(arch *models.ArchiveResult) string {
	name := strings.TrimSuffix(filepath.Base(arch.Path), archive.Extension)
	noun := "files"
	if arch.Files == 1 {
		noun = "file"
	}
	return fmt.Sprintf("Here is the folder you requested:\n\n<code>%s</code> (%d %s, %s)",
		telegram.EscapeHTML(name), arch.Files, noun, telegram.FormatSize(arch.SourceBytes))
}
