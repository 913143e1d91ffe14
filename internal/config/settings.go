package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the YAML overlay read from SETTINGS_FILE. Absent keys keep the
// value from the environment.
type Settings struct {
	InputPath   string `yaml:"input_path"`
	InputTable  string `yaml:"input_table"`
	InputColumn string `yaml:"input_column"`

	CheckpointPath          string `yaml:"checkpoint_path"`
	CheckpointFlushInterval *int   `yaml:"checkpoint_flush_interval"`

	PreferredLanguages       []string `yaml:"preferred_languages"`
	RateLimitCooldownSeconds *float64 `yaml:"rate_limit_cooldown_seconds"`
	RateLimitRetries         *int     `yaml:"rate_limit_retries"`
	InterItemDelaySeconds    *float64 `yaml:"inter_item_delay_seconds"`
	MaxItems                 *int     `yaml:"max_items"`
	ProgressEvery            *int     `yaml:"progress_every"`
	Workers                  *int     `yaml:"workers"`
	RetryErrorKinds          []string `yaml:"retry_error_kinds"`
	RequestTimeoutSeconds    *float64 `yaml:"request_timeout_seconds"`

	EnableFallback         *bool    `yaml:"enable_fallback"`
	FallbackModelSize      string   `yaml:"fallback_model_size"`
	FallbackCommand        string   `yaml:"fallback_command"`
	YtDlpBin               string   `yaml:"ytdlp_bin"`
	FallbackWorkDir        string   `yaml:"fallback_work_dir"`
	FallbackTimeoutSeconds *float64 `yaml:"fallback_timeout_seconds"`

	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsAddr string `yaml:"metrics_addr"`
	CronExpr    string `yaml:"cron_expr"`
}

// LoadSettingsFile reads a settings overlay. Unknown keys are rejected so typos
// do not silently fall back to defaults.
func LoadSettingsFile(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var settings Settings
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil {
		return Settings{}, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return settings, nil
}

// Validate checks the list fields, which cannot be checked after they are applied.
func (s Settings) Validate() error {
	if len(s.PreferredLanguages) > 0 {
		if _, err := ParseLanguages(strings.Join(s.PreferredLanguages, ",")); err != nil {
			return fmt.Errorf("preferred_languages: %w", err)
		}
	}
	if _, err := ParseErrorKinds(strings.Join(s.RetryErrorKinds, ",")); err != nil {
		return fmt.Errorf("retry_error_kinds: %w", err)
	}
	return nil
}

// WithSettings overlays every key present in settings. Call Validate first;
// invalid lists are skipped here.
func WithSettings(settings Settings) Option {
	return func(c *Config) {
		setString(&c.Input.Path, settings.InputPath)
		setString(&c.Input.Table, settings.InputTable)
		setString(&c.Input.Column, settings.InputColumn)

		setString(&c.Checkpoint.Path, settings.CheckpointPath)
		setValue(&c.Checkpoint.FlushInterval, settings.CheckpointFlushInterval)

		if len(settings.PreferredLanguages) > 0 {
			if tags, err := ParseLanguages(strings.Join(settings.PreferredLanguages, ",")); err == nil {
				c.Pipeline.PreferredLanguages = tags
			}
		}
		if settings.RateLimitCooldownSeconds != nil {
			c.Pipeline.Cooldown = seconds(*settings.RateLimitCooldownSeconds)
		}
		setValue(&c.Pipeline.RateLimitRetries, settings.RateLimitRetries)
		if settings.InterItemDelaySeconds != nil {
			c.Pipeline.InterItemDelay = seconds(*settings.InterItemDelaySeconds)
		}
		setValue(&c.Pipeline.MaxItems, settings.MaxItems)
		setValue(&c.Pipeline.ProgressEvery, settings.ProgressEvery)
		setValue(&c.Pipeline.Workers, settings.Workers)
		if settings.RetryErrorKinds != nil {
			if kinds, err := ParseErrorKinds(strings.Join(settings.RetryErrorKinds, ",")); err == nil {
				c.Pipeline.RetryErrorKinds = kinds
			}
		}
		if settings.RequestTimeoutSeconds != nil {
			c.Pipeline.RequestTimeout = seconds(*settings.RequestTimeoutSeconds)
		}

		setValue(&c.Fallback.Enabled, settings.EnableFallback)
		setString(&c.Fallback.ModelSize, settings.FallbackModelSize)
		setString(&c.Fallback.Command, settings.FallbackCommand)
		setString(&c.Fallback.YtDlpBin, settings.YtDlpBin)
		setString(&c.Fallback.WorkDir, settings.FallbackWorkDir)
		if settings.FallbackTimeoutSeconds != nil {
			c.Fallback.Timeout = seconds(*settings.FallbackTimeoutSeconds)
		}

		setString(&c.System.LogLevel, settings.LogLevel)
		setString(&c.System.LogFile, settings.LogFile)
		setString(&c.System.MetricsAddr, settings.MetricsAddr)
		setString(&c.System.CronExpr, settings.CronExpr)
	}
}

// Load builds the config from the environment and overlays the settings file
// at path, or at SETTINGS_FILE when path is empty. Without either it is NewFromEnv.
func Load(path string, opts ...Option) (*Config, error) {
	if path == "" {
		path = getEnvString("SETTINGS_FILE", "")
	}
	if path == "" {
		return NewFromEnv(opts...)
	}

	settings, err := LoadSettingsFile(path)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}
	return NewFromEnv(append([]Option{WithSettings(settings)}, opts...)...)
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
