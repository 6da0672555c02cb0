package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultRelevanceAlpha weights recent evidence in the relevance EMA
	// without erasing history in one shot.
	DefaultRelevanceAlpha = 0.30

	// DefaultConfidenceFloor rejects signals below this confidence.
	DefaultConfidenceFloor = 0.40

	// DefaultEaseMin and DefaultEaseMax bound the SM-2 ease factor. The
	// 2.5 ceiling is an intentional deviation from unbounded classic SM-2.
	DefaultEaseMin = 1.3
	DefaultEaseMax = 2.5
)

// Config holds all configuration for retain.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	SM2      SM2Config      `mapstructure:"sm2"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	API      APIConfig      `mapstructure:"api"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path            string `mapstructure:"path"`
	LockTimeoutMS   int    `mapstructure:"lock_timeout_ms"`
	DefaultDueLimit int    `mapstructure:"default_due_limit"`
}

// LockTimeout returns the per-entity lock acquisition bound.
func (s StoreConfig) LockTimeout() time.Duration {
	return time.Duration(s.LockTimeoutMS) * time.Millisecond
}

// ResolverConfig holds signal acceptance thresholds.
type ResolverConfig struct {
	RelevanceAlpha  float64  `mapstructure:"relevance_alpha"`
	ConfidenceFloor float64  `mapstructure:"confidence_floor"`
	MinKeyLen       int      `mapstructure:"min_key_len"`
	MaxKeyLen       int      `mapstructure:"max_key_len"`
	Denylist        []string `mapstructure:"denylist"`
	AllowedPunct    string   `mapstructure:"allowed_punct"`
}

// SM2Config holds scheduling constants.
type SM2Config struct {
	EaseMin             float64 `mapstructure:"ease_min"`
	EaseMax             float64 `mapstructure:"ease_max"`
	MasteryIntervalDays float64 `mapstructure:"mastery_interval_days"`
	MasteryMinReps      int     `mapstructure:"mastery_min_reps"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("store.path", filepath.Join(homeDir(), ".retain", "retain.db"))
	v.SetDefault("store.lock_timeout_ms", 5000)
	v.SetDefault("store.default_due_limit", 50)

	v.SetDefault("resolver.relevance_alpha", DefaultRelevanceAlpha)
	v.SetDefault("resolver.confidence_floor", DefaultConfidenceFloor)
	v.SetDefault("resolver.min_key_len", 3)
	v.SetDefault("resolver.max_key_len", 120)
	v.SetDefault("resolver.denylist", []string{
		"ok", "cancel", "submit", "login", "logout", "settings",
		"loading", "untitled", "new tab", "file", "edit", "view",
		"help", "search",
	})
	v.SetDefault("resolver.allowed_punct", "")

	v.SetDefault("sm2.ease_min", DefaultEaseMin)
	v.SetDefault("sm2.ease_max", DefaultEaseMax)
	v.SetDefault("sm2.mastery_interval_days", 21.0)
	v.SetDefault("sm2.mastery_min_reps", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".retain"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("RETAIN")
	v.AutomaticEnv()

	_ = v.BindEnv("store.path", "RETAIN_STORE_PATH")
	_ = v.BindEnv("api.listen_addr", "RETAIN_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "RETAIN_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Store.LockTimeoutMS <= 0 {
		return fmt.Errorf("store.lock_timeout_ms must be greater than 0")
	}
	if c.Store.DefaultDueLimit <= 0 {
		return fmt.Errorf("store.default_due_limit must be greater than 0")
	}
	if c.Resolver.RelevanceAlpha <= 0 || c.Resolver.RelevanceAlpha > 1 {
		return fmt.Errorf("resolver.relevance_alpha must be in (0, 1]")
	}
	if c.Resolver.ConfidenceFloor < 0 || c.Resolver.ConfidenceFloor > 1 {
		return fmt.Errorf("resolver.confidence_floor must be between 0 and 1")
	}
	if c.Resolver.MinKeyLen < 1 {
		return fmt.Errorf("resolver.min_key_len must be at least 1")
	}
	if c.Resolver.MaxKeyLen < c.Resolver.MinKeyLen {
		return fmt.Errorf("resolver.max_key_len must be >= resolver.min_key_len")
	}
	if c.SM2.EaseMin <= 0 {
		return fmt.Errorf("sm2.ease_min must be greater than 0")
	}
	if c.SM2.EaseMax < c.SM2.EaseMin {
		return fmt.Errorf("sm2.ease_max must be >= sm2.ease_min")
	}
	if c.SM2.MasteryIntervalDays <= 0 {
		return fmt.Errorf("sm2.mastery_interval_days must be greater than 0")
	}
	if c.SM2.MasteryMinReps < 1 {
		return fmt.Errorf("sm2.mastery_min_reps must be at least 1")
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
