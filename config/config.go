// Package config loads paddock settings from the environment and builds the
// storage backend, logger and reconnect policy they describe.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ggoodman/paddock/internal/logctx"
	"github.com/ggoodman/paddock/realtime"
	"github.com/ggoodman/paddock/storage"
	"github.com/ggoodman/paddock/storage/file"
	"github.com/ggoodman/paddock/storage/memory"
	"github.com/ggoodman/paddock/storage/redis"
	"github.com/ggoodman/paddock/storage/sqlite"
	"github.com/joeshaw/envdecode"
)

// Store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Reconnect policies.
const (
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the full set of paddock settings. Every field can be set from the
// environment and overridden by CLI flags.
type Config struct {
	// APIURL is the backend base URL. ENV: PADDOCK_API_URL
	APIURL string `env:"PADDOCK_API_URL,default=http://localhost:5000"`
	// Timeout bounds each REST call. ENV: PADDOCK_TIMEOUT
	Timeout time.Duration `env:"PADDOCK_TIMEOUT,default=15s"`

	// Store selects the session backend: file, sqlite, redis or memory.
	// ENV: PADDOCK_STORE
	Store string `env:"PADDOCK_STORE,default=file"`
	// StorePath is the directory (file) or database path (sqlite). Empty
	// means a location under the user config directory. ENV: PADDOCK_STORE_PATH
	StorePath string `env:"PADDOCK_STORE_PATH"`
	// RedisAddr like "localhost:6379". ENV: PADDOCK_REDIS_ADDR
	RedisAddr string `env:"PADDOCK_REDIS_ADDR,default=localhost:6379"`
	// RedisPrefix for all session keys. ENV: PADDOCK_REDIS_PREFIX
	RedisPrefix string `env:"PADDOCK_REDIS_PREFIX,default=paddock:storage:"`

	// RetryPolicy is fixed or exponential. ENV: PADDOCK_SSE_POLICY
	RetryPolicy string `env:"PADDOCK_SSE_POLICY,default=fixed"`
	// RetryDelay is the fixed delay, or the first exponential delay.
	// ENV: PADDOCK_SSE_RETRY
	RetryDelay time.Duration `env:"PADDOCK_SSE_RETRY,default=3s"`
	// RetryMax caps exponential delays. ENV: PADDOCK_SSE_RETRY_MAX
	RetryMax time.Duration `env:"PADDOCK_SSE_RETRY_MAX,default=30s"`
	// HonorServerRetry lets "retry:" fields override the fixed delay.
	// ENV: PADDOCK_SSE_HONOR_RETRY
	HonorServerRetry bool `env:"PADDOCK_SSE_HONOR_RETRY,default=false"`

	// LogLevel is debug, info, warn or error. ENV: PADDOCK_LOG_LEVEL
	LogLevel string `env:"PADDOCK_LOG_LEVEL,default=warn"`
	// LogFormat is text or json. ENV: PADDOCK_LOG_FORMAT
	LogFormat string `env:"PADDOCK_LOG_FORMAT,default=text"`
}

// Load decodes Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api url %q must be an absolute http(s) URL", ErrInvalid, c.APIURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalid)
	}
	switch c.Store {
	case StoreFile, StoreSQLite, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalid, c.Store)
	}
	switch c.RetryPolicy {
	case PolicyFixed, PolicyExponential:
	default:
		return fmt.Errorf("%w: unknown retry policy %q", ErrInvalid, c.RetryPolicy)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("%w: retry delay must be positive", ErrInvalid)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// Profile is the storage namespace for the configured backend: its host.
// Sessions for different backends never share keys.
func (c Config) Profile() string {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" {
		return storage.DefaultProfile
	}
	return strings.ToLower(u.Host)
}

// Policy builds the SSE reconnect policy.
func (c Config) Policy() realtime.ReconnectPolicy {
	if c.RetryPolicy == PolicyExponential {
		return realtime.Exponential{Initial: c.RetryDelay, Max: c.RetryMax}
	}
	return realtime.Fixed{Delay: c.RetryDelay, HonorServerRetry: c.HonorServerRetry}
}

func (c Config) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return lvl, nil
}

// Logger builds a context-aware logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	lvl, err := c.level()
	if err != nil {
		lvl = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if c.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.Handler{Handler: h})
}

// OpenStore opens the configured storage backend. The caller closes it.
func (c Config) OpenStore(ctx context.Context, log *slog.Logger) (storage.Storage, error) {
	switch c.Store {
	case StoreMemory:
		s, err := memory.New(0)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreRedis:
		s, err := redis.Dial(ctx, c.RedisAddr, c.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreSQLite:
		path := c.StorePath
		if path == "" {
			dir, err := defaultDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "paddock.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("config: create store dir: %w", err)
		}
		s, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreFile:
		dir := c.StorePath
		if dir == "" {
			d, err := defaultDir()
			if err != nil {
				return nil, err
			}
			dir = filepath.Join(d, "sessions")
		}
		s, err := file.New(dir, file.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown store %q", ErrInvalid, c.Store)
}

func defaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: locate config dir: %w", err)
	}
	return filepath.Join(base, "paddock"), nil
}
