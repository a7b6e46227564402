// Package config provides configuration loading from the environment, .env files and YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fgeck/vaultcourier/internal/models"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvBotToken holds the Telegram bot token.
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
	// EnvChatID holds the destination chat identifier.
	EnvChatID = "TELEGRAM_CHAT_ID"

	// DefaultLogFile is the append-only operation log.
	DefaultLogFile = "vaultcourier.log"
)

var botTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]{35}$`)

// Parser handles configuration parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with defaults and environment bindings.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("transfer.message_timeout", 15*time.Second)
	v.SetDefault("transfer.upload_timeout", 60*time.Second)
	v.SetDefault("transfer.output_dir", "")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("log.file", DefaultLogFile)

	// Credentials come from the well-known variables; every other key can be
	// overridden with VC_<SECTION>_<KEY>.
	_ = v.BindEnv("telegram.bot_token", EnvBotToken)
	_ = v.BindEnv("telegram.chat_id", EnvChatID)
	v.SetEnvPrefix("VC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Parser{v: v}
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error. Variables already set are left untouched.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads configuration from the environment only.
func (p *Parser) LoadEnv() (*models.AppConfig, error) {
	return p.parse()
}

// LoadFile loads configuration from a file path, with the environment taking precedence.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{
		Telegram: models.TelegramConfig{
			BotToken: strings.TrimSpace(p.expandEnv(p.v.GetString("telegram.bot_token"))),
			ChatID:   strings.TrimSpace(p.expandEnv(p.v.GetString("telegram.chat_id"))),
		},
		Transfer: models.TransferSettings{
			MessageTimeout: p.v.GetDuration("transfer.message_timeout"),
			UploadTimeout:  p.v.GetDuration("transfer.upload_timeout"),
			OutputDir:      p.expandEnv(p.v.GetString("transfer.output_dir")),
		},
		Retry: models.RetrySettings{
			MaxAttempts:  p.v.GetInt("retry.max_attempts"),
			InitialDelay: p.v.GetDuration("retry.initial_delay"),
			MaxDelay:     p.v.GetDuration("retry.max_delay"),
		},
		Log: models.LogSettings{
			File: p.expandEnv(p.v.GetString("log.file")),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return &models.ConfigError{Field: "configuration", Reason: "is nil"}
	}

	if cfg.Telegram.BotToken == "" {
		return &models.ConfigError{Field: EnvBotToken, Reason: "is missing"}
	}
	if !botTokenPattern.MatchString(cfg.Telegram.BotToken) {
		return &models.ConfigError{Field: EnvBotToken, Reason: "has an invalid format (want <digits>:<35 characters>)"}
	}
	if cfg.Telegram.ChatID == "" {
		return &models.ConfigError{Field: EnvChatID, Reason: "is missing"}
	}

	if cfg.Transfer.MessageTimeout <= 0 {
		return &models.ConfigError{Field: "transfer.message_timeout", Reason: "must be positive"}
	}
	if cfg.Transfer.UploadTimeout <= 0 {
		return &models.ConfigError{Field: "transfer.upload_timeout", Reason: "must be positive"}
	}

	if cfg.Retry.MaxAttempts < 1 {
		return &models.ConfigError{Field: "retry.max_attempts", Reason: "must be at least 1"}
	}
	if cfg.Retry.InitialDelay < 0 || cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		return &models.ConfigError{Field: "retry.max_delay", Reason: "must not be lower than retry.initial_delay"}
	}

	return nil
}

// MaskToken hides everything but the bot ID of a token.
func MaskToken(token string) string {
	id, _, ok := strings.Cut(token, ":")
	if !ok {
		return "(invalid)"
	}
	return id + ":" + strings.Repeat("*", 8)
}
