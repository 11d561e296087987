package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // json, pretty
	OutputFile string `json:"output_file"` // file path for logs
	Console    bool   `json:"console"`     // also log to console
}

// DefaultLogConfig returns sensible defaults
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:   "info",
		Format:  "json",
		Console: true,
	}
}

// SetupLogger configures the global logger
func SetupLogger(config *LogConfig) error {
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer

	if config.Console {
		if config.Format == "pretty" {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
				NoColor:    false,
			})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	if config.OutputFile != "" {
		logDir := filepath.Dir(config.OutputFile)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return err
		}

		logFile, err := os.OpenFile(config.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}

		writers = append(writers, logFile)
	}

	if len(writers) > 1 {
		log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	} else if len(writers) == 1 {
		log.Logger = zerolog.New(writers[0]).With().Timestamp().Logger()
	}

	log.Info().
		Str("level", config.Level).
		Str("format", config.Format).
		Bool("console", config.Console).
		Msg("Logger initialized")

	return nil
}

// GetLogger returns a contextual logger
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// GetAdapterLogger returns a logger for discovery source adapters
func GetAdapterLogger(adapter, topic string) zerolog.Logger {
	return log.With().
		Str("adapter", adapter).
		Str("topic", topic).
		Logger()
}

// GetSyncLogger returns a logger for ledger sync operations
func GetSyncLogger(syncID, clientID string) zerolog.Logger {
	return log.With().
		Str("sync_id", syncID).
		Str("client_id", clientID).
		Logger()
}
