// Package config provides configuration loading and validation for the workflow agent.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the process configuration. Values are resolved in order: defaults,
// the optional TOML file, then environment variables.
type Config struct {
	DatabaseURL string        `toml:"database_url"`
	Server      ServerConfig  `toml:"server"`
	Worker      WorkerConfig  `toml:"worker"`
	Storage     StorageConfig `toml:"storage"`
	LLM         LLMConfig     `toml:"llm"`
	Image       ImageConfig   `toml:"image"`
	Search      SearchConfig  `toml:"search"`
	Fetch       FetchConfig   `toml:"fetch"`
	Log         LogConfig     `toml:"log"`
	Auth        JWTConfig     `toml:"auth"`
	RateLimit   RateLimit     `toml:"rate_limit"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Port int `toml:"port"`
}

// WorkerConfig configures the job workers and the orphan reaper
type WorkerConfig struct {
	Count          int      `toml:"count"`
	JobTimeout     Duration `toml:"job_timeout"`
	PollInterval   Duration `toml:"poll_interval"`
	ReaperSchedule string   `toml:"reaper_schedule"`
}

// StorageConfig configures the MinIO artifact bucket
type StorageConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// LLMConfig configures the Gemini client
type LLMConfig struct {
	APIKey      string   `toml:"api_key"`
	CallTimeout Duration `toml:"call_timeout"`
}

// ImageConfig configures the featured image API. Image generation is disabled
// when no key is set.
type ImageConfig struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
}

// SearchConfig configures the Programmable Search engine used to discover a
// client's internal pages. Discovery is disabled unless both are set.
type SearchConfig struct {
	APIKey   string `toml:"api_key"`
	EngineID string `toml:"engine_id"`
}

// Enabled reports whether site search is configured
func (c SearchConfig) Enabled() bool {
	return c.APIKey != "" && c.EngineID != ""
}

// FetchConfig configures page scraping
type FetchConfig struct {
	UseBrowser bool     `toml:"use_browser"`
	CacheTTL   Duration `toml:"cache_ttl"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// RateLimit throttles job submissions and retries per owner
type RateLimit struct {
	Enabled            bool `toml:"enabled"`
	SubmissionsPerHour int  `toml:"submissions_per_hour"`
	Burst              int  `toml:"burst"`
}

// Duration is a time.Duration written as a Go duration string ("90s", "30m") in TOML
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Worker: WorkerConfig{
			Count:          2,
			JobTimeout:     Duration(30 * time.Minute),
			PollInterval:   Duration(time.Second),
			ReaperSchedule: "@every 1m",
		},
		Storage: StorageConfig{Bucket: "seo-articles"},
		LLM:     LLMConfig{CallTimeout: Duration(5 * time.Minute)},
		Fetch:   FetchConfig{CacheTTL: Duration(15 * time.Minute)},
		Log:     LogConfig{Level: "info", Format: "text"},
		Auth:    JWTConfig{ExpirationHours: 24},
		RateLimit: RateLimit{
			Enabled:            true,
			SubmissionsPerHour: 30,
			Burst:              5,
		},
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config TOML: %w", err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides file and default values with environment variables
func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("DATABASE_URL", &c.DatabaseURL)
	num("PORT", &c.Server.Port)
	num("WORKER_COUNT", &c.Worker.Count)
	dur("JOB_TIMEOUT", &c.Worker.JobTimeout)
	dur("POLL_INTERVAL", &c.Worker.PollInterval)
	str("REAPER_SCHEDULE", &c.Worker.ReaperSchedule)
	str("MINIO_ENDPOINT", &c.Storage.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Storage.AccessKey)
	str("MINIO_SECRET_KEY", &c.Storage.SecretKey)
	str("MINIO_BUCKET", &c.Storage.Bucket)
	flag("MINIO_USE_SSL", &c.Storage.UseSSL)
	str("GEMINI_API_KEY", &c.LLM.APIKey)
	dur("LLM_CALL_TIMEOUT", &c.LLM.CallTimeout)
	str("IMAGE_API_URL", &c.Image.Endpoint)
	str("IMAGE_API_KEY", &c.Image.APIKey)
	str("SEARCH_API_KEY", &c.Search.APIKey)
	str("SEARCH_ENGINE_ID", &c.Search.EngineID)
	flag("USE_BROWSER", &c.Fetch.UseBrowser)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("JWT_SECRET", &c.Auth.Secret)
	num("JWT_EXPIRATION_HOURS", &c.Auth.ExpirationHours)
	flag("RATE_LIMIT_ENABLED", &c.RateLimit.Enabled)
	num("RATE_LIMIT_SUBMISSIONS_PER_HOUR", &c.RateLimit.SubmissionsPerHour)

	return errors.Join(errs...)
}

// Validate checks that the configuration has valid values. Settings only some
// commands need, such as the Gemini key, are checked by Require.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config error: port %d is out of range", c.Server.Port)
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("config error: worker count must be at least 1")
	}
	if c.Worker.JobTimeout.Std() <= 0 {
		return fmt.Errorf("config error: job_timeout must be positive")
	}
	if c.Worker.PollInterval.Std() <= 0 {
		return fmt.Errorf("config error: poll_interval must be positive")
	}
	if c.LLM.CallTimeout.Std() <= 0 {
		return fmt.Errorf("config error: llm call_timeout must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "console", "json":
	default:
		return fmt.Errorf("config error: unknown log format %q", c.Log.Format)
	}
	if c.RateLimit.Enabled && c.RateLimit.SubmissionsPerHour < 1 {
		return fmt.Errorf("config error: rate limit must allow at least one submission per hour")
	}
	if c.Auth.ExpirationHours < 1 {
		return fmt.Errorf("config error: JWT expiration must be at least 1 hour, got: %d", c.Auth.ExpirationHours)
	}
	return nil
}

// Setting names accepted by Require
const (
	NeedDatabase = "database"
	NeedStorage  = "storage"
	NeedLLM      = "llm"
	NeedAuth     = "auth"
)

// Require reports the first missing setting among the named groups
func (c *Config) Require(needs ...string) error {
	for _, need := range needs {
		switch need {
		case NeedDatabase:
			if c.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required but not set")
			}
		case NeedStorage:
			if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
				return errors.New("MINIO_ENDPOINT and MINIO_BUCKET are required but not set")
			}
		case NeedLLM:
			if c.LLM.APIKey == "" {
				return errors.New("GEMINI_API_KEY is required but not set")
			}
		case NeedAuth:
			if err := c.Auth.normalize(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown config requirement %q", need)
		}
	}
	return nil
}
