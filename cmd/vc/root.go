package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fgeck/vaultcourier/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Global flags.
	configFile string
	logFile    string
	verbose    bool
	quiet      bool
	jsonOutput bool

	// openLogFile is the currently attached append-only log.
	openLogFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "vc [-f <file> [<file> ...]] [-d <directory>] [-m <message>]",
	Short: "Send files and folders to a Telegram chat",
	Long: `vc (VaultCourier) uploads files or a zipped folder to a Telegram chat:
  - each file is announced with a preview message, then uploaded
  - folders are zipped into <name>.zip, uploaded and removed afterwards
  - errors are reported to the same chat

Credentials are read from TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID
(a .env file in the working directory is loaded first).`,
	Example: `  vc -f report.pdf
  vc -f a.log b.log -m "nightly logs"
  vc -d ./photos`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Without an explicit --log-file the file is attached once config is loaded.
		path := ""
		if cmd.Flags().Changed("log-file") {
			path = logFile
		}
		setupLogging(path)
	},
	RunE:          runTransfer,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional YAML config file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", config.DefaultLogFile, "append-only log file (empty to disable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.Flags().StringArrayVarP(&files, "file", "f", nil, "file to send (repeatable, extra arguments are files too)")
	rootCmd.Flags().StringVarP(&directory, "directory", "d", "", "directory to zip and send")
	rootCmd.Flags().StringVarP(&message, "message", "m", "", "caption for every file sent")

	rootCmd.AddCommand(validateCmd)
}

// setupLogging configures the global logger. A log file that cannot be opened
// is reported on the console and logging continues without it.
func setupLogging(path string) {
	// Set output format
	var console io.Writer
	if jsonOutput {
		console = os.Stdout
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		console = output
	}

	if openLogFile != nil {
		_ = openLogFile.Close()
		openLogFile = nil
	}

	out := console
	var openErr error
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			openErr = err
		} else {
			openLogFile = f
			out = zerolog.MultiLevelWriter(console, f)
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if openErr != nil {
		log.Warn().Err(openErr).Str("log_file", path).Msg("cannot open log file, logging to console only")
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	if openLogFile != nil {
		_ = openLogFile.Close()
	}
	return err
}
