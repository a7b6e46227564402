package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/vaultcourier/internal/config"
	"github.com/fgeck/vaultcourier/internal/models"
	"github.com/fgeck/vaultcourier/internal/services/runner"
	"github.com/fgeck/vaultcourier/internal/services/telegram"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Transfer flags.
var (
	files     []string
	directory string
	message   string
)

var errNoTargets = errors.New("nothing to send: use -f <file> or -d <directory>")

// transferRunner runs a request and exposes the chat used for reports.
type transferRunner interface {
	runner.Service
	Notifier() telegram.Service
}

var newRunner = func(logger zerolog.Logger, cfg models.AppConfig) transferRunner {
	return runner.New(logger, cfg)
}

func buildRequest(args []string) models.TransferRequest {
	req := models.TransferRequest{
		Directory: directory,
		Caption:   message,
	}
	req.Files = append(req.Files, files...)
	req.Files = append(req.Files, args...)
	return req
}

func loadConfig() (*models.AppConfig, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	parser := config.NewParser()
	if configFile != "" {
		return parser.LoadFile(configFile)
	}
	return parser.LoadEnv()
}

func runTransfer(cmd *cobra.Command, args []string) (err error) {
	req := buildRequest(args)
	if req.Empty() {
		_ = cmd.Usage()
		return errNoTargets
	}

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	if !cmd.Flags().Changed("log-file") {
		setupLogging(cfg.Log.File)
	}

	log.Info().
		Int("files", len(req.Files)).
		Str("directory", req.Directory).
		Str("chat_id", cfg.Telegram.ChatID).
		Msg("VaultCourier is starting")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	runnerSvc := newRunner(log.Logger, *cfg)

	defer func() {
		if r := recover(); r != nil {
			uerr := &models.UnexpectedError{Value: r}
			log.Error().Err(uerr).Msg("an unexpected error occurred")
			runnerSvc.Notifier().ReportError(context.Background(), uerr.Error())
			err = uerr
		}
	}()

	result, err := runnerSvc.Run(ctx, req)
	if errors.Is(err, context.Canceled) {
		log.Warn().Msg("operation cancelled by user")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("transfer run failed")
		return err
	}

	for _, u := range result.Uploads {
		ev := log.Info()
		if !u.Success {
			ev = log.Error()
		}
		ev.Str("target", u.Target.Path).
			Str("kind", string(u.Target.Kind)).
			Bool("success", u.Success).
			Str("reason", u.Reason).
			Msg("result")
	}

	log.Info().
		Int("succeeded", result.Succeeded()).
		Int("failed", result.Failed()).
		Msg("VaultCourier finished its operation")
	return nil
}
