// Package config loads the asset engine configuration.
//
// Precedence, lowest first: Default(), the TOML file, a .env file in the
// working directory, ASSET_ENGINE_* environment variables. Command-line
// flags are applied on top by cmd/server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
	CORS      CORSConfig      `toml:"cors"`
	Events    EventsConfig    `toml:"events"`
}

type ServerConfig struct {
	Addr            string `toml:"addr"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Path of the SQLite file; ":memory:" keeps everything in process.
	Path string `toml:"path"`
}

type SchedulerConfig struct {
	Enabled    bool   `toml:"enabled"`
	Interval   string `toml:"interval"`
	Workers    int    `toml:"workers"`
	MaxCatchUp int    `toml:"max_catch_up"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type EventsConfig struct {
	// Buffer of the in-process event channel feeding websocket clients.
	Buffer int `toml:"buffer"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{Path: "./data/assets.db"},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Interval:   "1h",
			Workers:    4,
			MaxCatchUp: 120,
		},
		Log:    LogConfig{Level: "info", Format: "text"},
		CORS:   CORSConfig{AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"}},
		Events: EventsConfig{Buffer: 1024},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("read .env: %w", err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ASSET_ENGINE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("ASSET_ENGINE_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("ASSET_ENGINE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := c.SchedulerInterval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, errors.New("scheduler.workers must be at least 1"))
	}
	if c.Scheduler.MaxCatchUp < 1 {
		errs = append(errs, errors.New("scheduler.max_catch_up must be at least 1"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c Config) SchedulerInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Scheduler.Interval)
	if err != nil {
		return 0, fmt.Errorf("scheduler.interval: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("scheduler.interval must be positive")
	}
	return d, nil
}

func (c Config) ShutdownTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	return d, nil
}

func (c Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return l, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Logger builds the slog logger described by the log section.
func (c Config) Logger() *slog.Logger {
	level, _ := c.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
