// Package logger configures the zerolog logger shared by every component.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's verbosity and output format.
type Config struct {
	Level  string
	Pretty bool
}

// New builds a zerolog.Logger from cfg and sets the zerolog global level so
// every derived logger (via .With()) respects it.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var log zerolog.Logger
	if cfg.Pretty {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		log = zerolog.New(writer).With().Timestamp().Caller().Logger()
	} else {
		log = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}

	return log
}

// SetGlobalLogger installs log as the package-level zerolog default, used by
// code that cannot take a logger by dependency injection (e.g. init-time
// helpers).
func SetGlobalLogger(log zerolog.Logger) {
	zerolog.DefaultContextLogger = &log
}
