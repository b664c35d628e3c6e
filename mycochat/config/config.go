package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	internal "github.com/ellenlodin/Mushroom-Chatbot/mycochat"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Harness HarnessConfig `mapstructure:"harness"`
	Risk    RiskConfig    `mapstructure:"risk"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig stores HTTP surface settings.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"` // websocket frame limit in bytes
}

// LLMConfig stores model service settings. Text and vision calls use independent model ids.
type LLMConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	TextModel         string  `mapstructure:"text_model"`
	VisionModel       string  `mapstructure:"vision_model"`
	Temperature       float32 `mapstructure:"temperature"`        // streaming replies
	VisionTemperature float32 `mapstructure:"vision_temperature"` // structured identification
	MaxNewTokens      int     `mapstructure:"max_new_tokens"`     // 0 leaves it to the service
}

// HarnessConfig stores pipeline settings.
type HarnessConfig struct {
	// System instruction
	SystemPromptPath  string `mapstructure:"system_prompt_path"`  // empty uses the built-in prompt
	WatchSystemPrompt bool   `mapstructure:"watch_system_prompt"` // reload on file change

	// Context
	ContextWindow    int  `mapstructure:"context_window"`     // turns replayed to the model, 0 = all
	FinalizeOnCancel bool `mapstructure:"finalize_on_cancel"` // keep partial replies when the consumer stops

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// RiskConfig overrides the built-in risk table. Categories are evaluated in Order;
// a category without Rules or Messages falls back to its built-in entry.
type RiskConfig struct {
	Order    []string            `mapstructure:"order"`
	Rules    map[string][]string `mapstructure:"rules"`
	Messages map[string]string   `mapstructure:"messages"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("server.addr", internal.DefaultServerAddr)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s") // streaming replies are unbounded
	v.SetDefault("server.max_message_size", 16<<20)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", internal.DefaultBaseURL)
	v.SetDefault("llm.text_model", internal.DefaultTextModel)
	v.SetDefault("llm.vision_model", internal.DefaultVisionModel)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.vision_temperature", 0.0)
	v.SetDefault("llm.max_new_tokens", 0)

	v.SetDefault("harness.system_prompt_path", "")
	v.SetDefault("harness.watch_system_prompt", false)
	v.SetDefault("harness.context_window", 0)
	v.SetDefault("harness.finalize_on_cancel", true)
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.enable_tracing", true)
	v.SetDefault("harness.enable_metrics", true)

	v.SetDefault("risk.order", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. llm.text_model becomes LLM_TEXT_MODEL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = firstEnv("GEMINI_API_KEY", "OPENAI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.LLM.TextModel == "" || c.LLM.VisionModel == "" {
		return fmt.Errorf("llm.text_model and llm.vision_model are required")
	}
	if c.LLM.Temperature < 0 || c.LLM.VisionTemperature < 0 {
		return fmt.Errorf("llm temperatures must not be negative")
	}
	if c.Harness.ContextWindow < 0 {
		return fmt.Errorf("harness.context_window must not be negative")
	}
	if c.Harness.RateLimitEnabled && (c.Harness.RateLimitCapacity < 1 || c.Harness.RateLimitRefillRate <= 0) {
		return fmt.Errorf("rate limiting needs a positive capacity and refill rate")
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
