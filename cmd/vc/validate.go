package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/vaultcourier/internal/config"
	"github.com/fgeck/vaultcourier/internal/services/telegram"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate credentials and configuration",
	Long:  `Validate the Telegram credentials and settings without sending anything.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	// Print configuration summary
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Telegram:")
	fmt.Fprintf(out, "  Bot Token: %s\n", config.MaskToken(cfg.Telegram.BotToken))
	fmt.Fprintf(out, "  Chat ID: %s\n", cfg.Telegram.ChatID)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Transfer:")
	fmt.Fprintf(out, "  Message timeout: %s\n", cfg.Transfer.MessageTimeout)
	fmt.Fprintf(out, "  Upload timeout: %s\n", cfg.Transfer.UploadTimeout)
	if cfg.Transfer.OutputDir != "" {
		fmt.Fprintf(out, "  Archive directory: %s\n", cfg.Transfer.OutputDir)
	} else {
		fmt.Fprintln(out, "  Archive directory: (working directory)")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Retry:")
	fmt.Fprintf(out, "  Max attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Fprintf(out, "  Initial delay: %s\n", cfg.Retry.InitialDelay)
	fmt.Fprintf(out, "  Max delay: %s\n", cfg.Retry.MaxDelay)
	fmt.Fprintf(out, "  Schedule: %s\n", formatDelays(telegram.PolicyFromSettings(cfg.Retry).Delays()))
	if cfg.Log.File != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Log file: %s\n", cfg.Log.File)
	}

	return nil
}

// formatDelays renders the waits between attempts, e.g. "2s, 4s".
func formatDelays(delays []time.Duration) string {
	if len(delays) == 0 {
		return "no retries"
	}
	parts := make([]string, len(delays))
	for i, d := range delays {
		parts[i] = d.String()
	}
	return strings.Join(parts, ", ")
}
