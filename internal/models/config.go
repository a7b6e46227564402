// Package models contains the data structures used throughout vaultcourier.
package models

import "time"

// AppConfig holds the complete configuration for a run.
type AppConfig struct {
	Telegram TelegramConfig
	Transfer TransferSettings
	Retry    RetrySettings
	Log      LogSettings
}

// TransferSettings holds upload-specific settings.
type TransferSettings struct {
	MessageTimeout time.Duration // per sendMessage attempt
	UploadTimeout  time.Duration // per sendDocument call
	OutputDir      string        // where directory archives are written
}

// RetrySettings defines the retry schedule for text messages.
type RetrySettings struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// LogSettings holds the local log file settings.
type LogSettings struct {
	File string // empty disables the log file
}
