package config

import (
	"flag"
	"fmt"
)

// CLIFlags holds command-line overrides. A nil field was not given.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
	Checkpoint *string
}

// ParseFlags parses serve flags from args. Each flag has a long and a
// one-letter form.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("modguard", flag.ContinueOnError)

	var configPath, port, logLevel, dsn, natsURL, checkpoint string
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&port, "port", "", "HTTP listen port")
	fs.StringVar(&port, "p", "", "shorthand for --port")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&logLevel, "l", "", "shorthand for --log-level")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	fs.StringVar(&checkpoint, "checkpoint-backend", "", "checkpoint store (memory, postgres, nats, redis, sqlite)")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = &configPath
		case "port", "p":
			flags.Port = &port
		case "log-level", "l":
			flags.LogLevel = &logLevel
		case "dsn":
			flags.DSN = &dsn
		case "nats-url":
			flags.NatsURL = &natsURL
		case "checkpoint-backend":
			flags.Checkpoint = &checkpoint
		}
	})
	return flags, nil
}

// applyCLI overlays the given flags onto cfg.
func applyCLI(cfg *Config, f CLIFlags) {
	if f.Port != nil {
		cfg.Server.Port = *f.Port
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.DSN != nil {
		cfg.Postgres.DSN = *f.DSN
	}
	if f.NatsURL != nil {
		cfg.NATS.URL = *f.NatsURL
	}
	if f.Checkpoint != nil {
		cfg.Checkpoint.Backend = *f.Checkpoint
	}
}

// LoadWithCLI loads defaults < YAML < ENV < CLI flags and returns the
// config together with the YAML path that was used.
func LoadWithCLI(f CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if f.ConfigPath != nil {
		path = *f.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, f)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}
