package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/transcript-collector/internal/fallback"
	"github.com/MimeLyc/transcript-collector/internal/transcript"
	"github.com/MimeLyc/transcript-collector/pkg/log"
)

// Config holds all application configuration.
// Values come from environment variables, optionally overlaid by a YAML
// settings file (see LoadSettingsFile).
//
// Environment Variables:
// Input:
// - INPUT_PATH: CSV file or SQLite database with the item ids (default: items.csv)
// - INPUT_TABLE: table to read when INPUT_PATH is a database (default: items)
// - INPUT_COLUMN: id column (default: item_id, or video_id in a CSV without item_id)
//
// Checkpoint:
// - CHECKPOINT_PATH: *.csv, SQLite file or postgres:// DSN (default: transcripts.db)
// - CHECKPOINT_FLUSH_INTERVAL: results per flush, 0 picks 100 or 5 with fallback (default: 0)
//
// Pipeline:
// - PREFERRED_LANGUAGES: comma separated BCP-47 tags (default: en)
// - RATE_LIMIT_COOLDOWN_SECONDS: pause after being rate limited (default: 60)
// - RATE_LIMIT_RETRIES: immediate retries of a rate limited item (default: 1)
// - INTER_ITEM_DELAY_SECONDS: delay after each successful fetch (default: 0.15)
// - MAX_ITEMS: cap on items per run, 0 means no cap (default: 0)
// - PROGRESS_EVERY: progress log cadence (default: 25)
// - WORKERS: concurrent workers (default: 1)
// - RETRY_ERROR_KINDS: comma separated error kinds to reprocess on resume (default: none)
// - REQUEST_TIMEOUT_SECONDS: caption request timeout (default: 30)
//
// Fallback:
// - ENABLE_FALLBACK: run speech-to-text when no transcript exists (default: false)
// - FALLBACK_MODEL_SIZE: tiny, base, small, medium, large (default: base)
// - FALLBACK_COMMAND: whisper command line (default: whisper)
// - YTDLP_BIN: yt-dlp binary (default: yt-dlp)
// - FALLBACK_WORK_DIR: scratch directory for audio (default: $TMPDIR/transcript-collector)
// - FALLBACK_TIMEOUT_SECONDS: limit for one fallback run (default: 1800)
//
// System:
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - LOG_FILE: append logs to this file instead of stderr
// - METRICS_ADDR: address of the status and metrics server, empty disables it
// - CRON_EXPR: schedule of the schedule command (default: 0 3 * * *)
// - SETTINGS_FILE: optional YAML settings overlay
type Config struct {
	Input      InputConfig
	Checkpoint CheckpointConfig
	Pipeline   PipelineConfig
	Fallback   FallbackConfig
	System     SystemConfig
}

type InputConfig struct {
	Path   string
	Table  string
	Column string
}

type CheckpointConfig struct {
	Path          string
	FlushInterval int
}

type PipelineConfig struct {
	PreferredLanguages []language.Tag
	Cooldown           time.Duration
	RateLimitRetries   int
	InterItemDelay     time.Duration
	MaxItems           int
	ProgressEvery      int
	Workers            int
	RetryErrorKinds    []transcript.ErrorKind
	RequestTimeout     time.Duration
}

type FallbackConfig struct {
	Enabled   bool
	ModelSize string
	Command   string
	YtDlpBin  string
	WorkDir   string
	Timeout   time.Duration
}

type SystemConfig struct {
	LogLevel    string
	LogFile     string
	MetricsAddr string
	CronExpr    string
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	langs, err := ParseLanguages(getEnvString("PREFERRED_LANGUAGES", "en"))
	if err != nil {
		return nil, fmt.Errorf("PREFERRED_LANGUAGES: %w", err)
	}
	retryKinds, err := ParseErrorKinds(getEnvString("RETRY_ERROR_KINDS", ""))
	if err != nil {
		return nil, fmt.Errorf("RETRY_ERROR_KINDS: %w", err)
	}

	config := &Config{
		Input: InputConfig{
			Path:   getEnvString("INPUT_PATH", "items.csv"),
			Table:  getEnvString("INPUT_TABLE", "items"),
			Column: getEnvString("INPUT_COLUMN", ""),
		},
		Checkpoint: CheckpointConfig{
			Path:          getEnvString("CHECKPOINT_PATH", "transcripts.db"),
			FlushInterval: getEnvInt("CHECKPOINT_FLUSH_INTERVAL", 0),
		},
		Pipeline: PipelineConfig{
			PreferredLanguages: langs,
			Cooldown:           getEnvSeconds("RATE_LIMIT_COOLDOWN_SECONDS", 60),
			RateLimitRetries:   getEnvInt("RATE_LIMIT_RETRIES", 1),
			InterItemDelay:     getEnvSeconds("INTER_ITEM_DELAY_SECONDS", 0.15),
			MaxItems:           getEnvInt("MAX_ITEMS", 0),
			ProgressEvery:      getEnvInt("PROGRESS_EVERY", 25),
			Workers:            getEnvInt("WORKERS", 1),
			RetryErrorKinds:    retryKinds,
			RequestTimeout:     getEnvSeconds("REQUEST_TIMEOUT_SECONDS", 30),
		},
		Fallback: FallbackConfig{
			Enabled:   getEnvBool("ENABLE_FALLBACK", false),
			ModelSize: getEnvString("FALLBACK_MODEL_SIZE", "base"),
			Command:   getEnvString("FALLBACK_COMMAND", fallback.DefaultCommand),
			YtDlpBin:  getEnvString("YTDLP_BIN", fallback.DefaultYtDlp),
			WorkDir:   getEnvString("FALLBACK_WORK_DIR", filepath.Join(os.TempDir(), "transcript-collector")),
			Timeout:   getEnvSeconds("FALLBACK_TIMEOUT_SECONDS", 1800),
		},
		System: SystemConfig{
			LogLevel:    getEnvString("LOG_LEVEL", "info"),
			LogFile:     getEnvString("LOG_FILE", ""),
			MetricsAddr: getEnvString("METRICS_ADDR", ""),
			CronExpr:    getEnvString("CRON_EXPR", "0 3 * * *"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Input.Path) == "" {
		return fmt.Errorf("INPUT_PATH is required")
	}
	if strings.TrimSpace(c.Checkpoint.Path) == "" {
		return fmt.Errorf("CHECKPOINT_PATH is required")
	}
	if c.Checkpoint.FlushInterval < 0 {
		return fmt.Errorf("CHECKPOINT_FLUSH_INTERVAL must not be negative")
	}
	if len(c.Pipeline.PreferredLanguages) == 0 {
		return fmt.Errorf("PREFERRED_LANGUAGES needs at least one language")
	}
	if c.Pipeline.Cooldown < 0 || c.Pipeline.InterItemDelay < 0 {
		return fmt.Errorf("cool-down and inter-item delay must not be negative")
	}
	if c.Pipeline.RequestTimeout <= 0 || c.Fallback.Timeout <= 0 {
		return fmt.Errorf("request and fallback timeouts must be positive")
	}
	if c.Pipeline.RateLimitRetries < 0 {
		return fmt.Errorf("RATE_LIMIT_RETRIES must not be negative")
	}
	if c.Pipeline.MaxItems < 0 {
		return fmt.Errorf("MAX_ITEMS must not be negative")
	}
	if c.Pipeline.ProgressEvery <= 0 {
		return fmt.Errorf("PROGRESS_EVERY must be positive")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive")
	}
	if _, err := fallback.ParseModelSize(c.Fallback.ModelSize); err != nil {
		return fmt.Errorf("FALLBACK_MODEL_SIZE: %w", err)
	}
	if c.Fallback.Enabled && strings.TrimSpace(c.Fallback.Command) == "" {
		return fmt.Errorf("FALLBACK_COMMAND is required when the fallback is enabled")
	}
	if _, err := cron.ParseStandard(c.System.CronExpr); err != nil {
		return fmt.Errorf("invalid CRON_EXPR: %w", err)
	}
	return nil
}

// ParseLanguages parses a comma separated list of BCP-47 tags.
func ParseLanguages(s string) ([]language.Tag, error) {
	var ret []language.Tag
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tag, err := language.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid language %q: %w", part, err)
		}
		ret = append(ret, tag)
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("no language in %q", s)
	}
	return ret, nil
}

// ParseErrorKinds parses a comma separated list of error kinds; an empty string yields none.
func ParseErrorKinds(s string) ([]transcript.ErrorKind, error) {
	var ret []transcript.ErrorKind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, err := transcript.ParseErrorKind(part)
		if err != nil {
			return nil, err
		}
		if kind == transcript.ErrorNone {
			continue
		}
		ret = append(ret, kind)
	}
	return ret, nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvSeconds reads a possibly fractional number of seconds.
func getEnvSeconds(key string, defaultValue float64) time.Duration {
	return seconds(getEnvFloat(key, defaultValue))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
