// Package util provides initialization utilities for logger and configuration.
package util

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// InitLogger initializes and returns a zerolog logger at info level. It
// writes pretty console output when stdout is a terminal and JSON otherwise.
func InitLogger() *zerolog.Logger {
	// Default to info level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Create logger with timestamp
	var logger zerolog.Logger

	// Check if we're in a terminal for pretty output
	if isTerminal() {
		// Pretty console output for development
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Caller().
			Logger()
	} else {
		// JSON output for production
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "ibc-relayer").
			Logger()
	}

	return &logger
}

// requiredConfigKeys are the settings every relayer process needs before a
// worker can safely start: the audit ledger path and the two HTTP listener
// addresses cmd/relayer binds. Chain and path configuration live in their
// own files (pkg/config.LoadConfig / LoadPaths) and are validated there,
// since they don't come from config.toml.
var requiredConfigKeys = []string{
	"audit.db_path",
	"metrics.address",
	"health.address",
}

// InitConfig initializes and returns a koanf configuration instance. It
// loads configuration from the TOML file, allows environment variable
// overrides, and fails fast if a setting every relayer process depends on
// is missing, catching a bad deploy config before a worker starts rather
// than surfacing it later as an audit ledger opened at an empty path.
func InitConfig(logger *zerolog.Logger, configPath string) *koanf.Koanf {
	ko := koanf.New(".")

	// Load configuration from TOML file
	if err := ko.Load(file.Provider(configPath), toml.Parser()); err != nil {
		logger.Fatal().
			Err(err).
			Str("path", configPath).
			Msg("failed to load config file")
	}

	// Load environment variables with prefix handling
	// Environment variables like CHAIN_RPC_ENDPOINT will override chain.rpc_endpoint
	if err := ko.Load(env.Provider("", ".", func(s string) string {
		// Convert CHAIN_RPC_ENDPOINT to chain.rpc_endpoint: only the first
		// underscore separates section from key
		return strings.Replace(strings.ToLower(s), "_", ".", 1)
	}), nil); err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to load environment variables")
	}

	if missing := missingRequiredKeys(ko); len(missing) > 0 {
		logger.Fatal().
			Strs("missing", missing).
			Str("config_file", configPath).
			Msg("required configuration keys absent")
	}

	logger.Info().
		Str("config_file", configPath).
		Msg("configuration loaded successfully")

	return ko
}

// missingRequiredKeys reports which of requiredConfigKeys have no value in
// ko, after file load and env overrides have both applied.
func missingRequiredKeys(ko *koanf.Koanf) []string {
	var missing []string
	for _, key := range requiredConfigKeys {
		if ko.String(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// UpdateLogLevel updates the global log level based on configuration.
func UpdateLogLevel(ko *koanf.Koanf, logger *zerolog.Logger) {
	levelStr := ko.String("logging.level")
	if levelStr == "" {
		levelStr = "info"
	}

	var level zerolog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
		logger.Warn().
			Str("configured_level", levelStr).
			Str("using_level", "info").
			Msg("unknown log level, defaulting to info")
	}

	zerolog.SetGlobalLevel(level)
	logger.Info().
		Str("level", level.String()).
		Msg("log level set")
}

// isTerminal checks if stdout is a terminal (for pretty console output).
func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
