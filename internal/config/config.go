// Package config loads and validates solver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Solver   SolverConfig   `mapstructure:"solver"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig holds the shared secret clients must present on job submission.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// SolverConfig governs dispatcher and solve pipeline behavior.
type SolverConfig struct {
	Workers               int `mapstructure:"workers"`
	QueueDepth            int `mapstructure:"queue_depth"`
	GlobalBudgetSeconds   int `mapstructure:"global_budget_seconds"`
	QuestionWindowSeconds int `mapstructure:"question_window_seconds"`
	MaxQuestions          int `mapstructure:"max_questions"`
}

// HTTPConfig configures outbound HTTP client behavior.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
	SubmitHostQPS    int    `mapstructure:"submit_host_qps"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// StorageConfig sets provider, paths, and content types for blob persistence.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational job store.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LLMConfig enables the LLM extractor when a token is present.
type LLMConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	Model    string `mapstructure:"model"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The deployment platform injects the listen port as bare PORT, and
	// the grader secret as QUIZ_SECRET.
	if err := v.BindEnv("server.port", "SOLVER_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}
	if err := v.BindEnv("auth.secret", "SOLVER_AUTH_SECRET", "QUIZ_SECRET"); err != nil {
		return Config{}, fmt.Errorf("bind secret env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("solver.workers", 4)
	v.SetDefault("solver.queue_depth", 64)
	v.SetDefault("solver.global_budget_seconds", 170)
	v.SetDefault("solver.question_window_seconds", 180)
	v.SetDefault("solver.max_questions", 25)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.user_agent", "quizsolver/0.1")
	v.SetDefault("http.submit_host_qps", 4)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("llm.endpoint", "https://aipipe.org/openrouter/v1/chat/completions")
	v.SetDefault("llm.model", "openai/gpt-4.1-nano")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Solver.Workers <= 0 {
		return fmt.Errorf("solver.workers must be > 0")
	}
	if c.Solver.GlobalBudgetSeconds <= 0 {
		return fmt.Errorf("solver.global_budget_seconds must be > 0")
	}
	if c.Solver.QuestionWindowSeconds <= 0 {
		return fmt.Errorf("solver.question_window_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret must be set")
	}
	switch c.Storage.Provider {
	case "memory", "gcs":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set when storage.provider is local")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown db provider %q", c.DB.Provider)
	}
	return nil
}

// GlobalBudget converts the solve budget into a duration.
func (c Config) GlobalBudget() time.Duration {
	return time.Duration(c.Solver.GlobalBudgetSeconds) * time.Second
}

// QuestionWindow converts the per-question window into a duration.
func (c Config) QuestionWindow() time.Duration {
	return time.Duration(c.Solver.QuestionWindowSeconds) * time.Second
}

// HTTPTimeout converts the outbound HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
