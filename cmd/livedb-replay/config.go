package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config is read from the environment first; command-line flags override it.
type Config struct {
	DBPath       string        `env:"LIVEDB_DB_PATH" envDefault:":memory:"`
	Verbose      bool          `env:"LIVEDB_VERBOSE"`
	LogLevel     string        `env:"LIVEDB_LOG_LEVEL" envDefault:"info"`
	LogFormat    string        `env:"LIVEDB_LOG_FORMAT" envDefault:"console"`
	RetryBackoff time.Duration `env:"LIVEDB_RETRY_BACKOFF" envDefault:"50ms"`
	MaxRetries   uint64        `env:"LIVEDB_MAX_RETRIES" envDefault:"20"`
	Timeout      time.Duration `env:"LIVEDB_TIMEOUT" envDefault:"30s"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error getting env configs: %w", err)
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format %q, wanted console or json", cfg.LogFormat)
	}
	if cfg.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff must be positive, got %v", cfg.RetryBackoff)
	}
	return nil
}

// newLogger writes to w, which is stderr for the CLI so that stdout carries
// only change sets. Download goroutines log concurrently with the loop.
func newLogger(cfg Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	w = zerolog.SyncWriter(w)
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
