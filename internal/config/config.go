// Package config handles configuration loading for stockagent.
// It supports YAML config files, a local .env file, and environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultTickers is the watch list downloaded alongside the requested ticker.
var DefaultTickers = []string{"AAPL", "NVDA", "TSLA", "MSFT", "GOOGL", "AMZN", "META", "NFLX", "INTC", "AMD"}

// Config represents the complete application configuration.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"     yaml:"llm"`
	Market  MarketConfig  `mapstructure:"market"  yaml:"market"`
	Data    DataConfig    `mapstructure:"data"    yaml:"data"`
	Agent   AgentConfig   `mapstructure:"agent"   yaml:"agent"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Primary        string   `mapstructure:"primary"         yaml:"primary"         validate:"oneof=anthropic openai ollama gemini"`
	Fallbacks      []string `mapstructure:"fallbacks"       yaml:"fallbacks"       validate:"dive,oneof=anthropic openai ollama gemini"`
	AnthropicKey   string   `mapstructure:"anthropic_key"   yaml:"anthropic_key"`
	OpenAIKey      string   `mapstructure:"openai_key"      yaml:"openai_key"`
	GeminiKey      string   `mapstructure:"gemini_key"      yaml:"gemini_key"`
	OllamaURL      string   `mapstructure:"ollama_url"      yaml:"ollama_url"`
	Model          string   `mapstructure:"model"           yaml:"model"`
	EmbeddingModel string   `mapstructure:"embedding_model" yaml:"embedding_model"`
	Temperature    float64  `mapstructure:"temperature"     yaml:"temperature"     validate:"gte=0,lte=2"`
	MaxTokens      int      `mapstructure:"max_tokens"      yaml:"max_tokens"      validate:"gt=0"`
	TimeoutSec     int      `mapstructure:"timeout_sec"     yaml:"timeout_sec"`
}

// MarketConfig holds market-data provider settings.
type MarketConfig struct {
	Tickers           []string `mapstructure:"tickers"             yaml:"tickers"`
	Concurrency       int      `mapstructure:"concurrency"         yaml:"concurrency"         validate:"gte=1"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	TimeoutSec        int      `mapstructure:"timeout_sec"         yaml:"timeout_sec"`
	RSSFallback       bool     `mapstructure:"rss_fallback"        yaml:"rss_fallback"`
	NewsCount         int      `mapstructure:"news_count"          yaml:"news_count"          validate:"gte=0"`
}

// DataConfig holds where persisted tables live.
type DataConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir" validate:"required"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	MaxIterations int  `mapstructure:"max_iterations" yaml:"max_iterations" validate:"gt=0"`
	TopK          int  `mapstructure:"top_k"          yaml:"top_k"          validate:"gt=0"`
	Verbose       bool `mapstructure:"verbose"        yaml:"verbose"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.stockagent/config.yaml (home directory)
//  3. /etc/stockagent/config.yaml (system)
//
// A .env file in the working directory is loaded first. Environment
// variables override config file values.
// Format: STOCKAGENT_<SECTION>_<KEY>, e.g., STOCKAGENT_LLM_MODEL
func Load() (*Config, error) {
	loadDotEnv()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".stockagent"))
	v.AddConfigPath("/etc/stockagent")

	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadDotEnv()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("STOCKAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks the struct tags, naming fields by their config keys.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		return name
	})
	return v
}()

// Validate checks values that would otherwise fail deep inside the pipeline.
// The first violation is reported by its config key, e.g. llm.primary.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return fmt.Errorf("config: %s: value %v does not satisfy %s", key, fe.Value(), rule)
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.primary", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.ollama_url", "http://localhost:11434")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout_sec", 120)

	// Market defaults
	v.SetDefault("market.tickers", DefaultTickers)
	v.SetDefault("market.concurrency", 4)
	v.SetDefault("market.requests_per_second", 4.0)
	v.SetDefault("market.timeout_sec", 30)
	v.SetDefault("market.rss_fallback", true)
	v.SetDefault("market.news_count", 20)

	v.SetDefault("data.dir", "data")

	// Agent defaults
	v.SetDefault("agent.max_iterations", 30)
	v.SetDefault("agent.top_k", 3)
	v.SetDefault("agent.verbose", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// The vendor-standard names are honoured when the prefixed ones are unset.
func overrideFromEnv(cfg *Config) {
	if key := firstEnv("STOCKAGENT_LLM_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.AnthropicKey = key
	}
	if key := firstEnv("STOCKAGENT_LLM_OPENAI_KEY", "OPENAI_API_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	}
	if key := firstEnv("STOCKAGENT_LLM_GEMINI_KEY", "GEMINI_API_KEY"); key != "" {
		cfg.LLM.GeminiKey = key
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// loadDotEnv loads ./.env into the process environment. Variables that are
// already set win.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
