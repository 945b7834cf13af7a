// Package config loads service configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	Redis    RedisConfig    `mapstructure:"redis"`
	S3       S3Config       `mapstructure:"s3"`
	Prompts  PromptsConfig  `mapstructure:"prompts"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ProviderConfig selects and configures the generative model backend.
type ProviderConfig struct {
	// Name is "gemini" or "mock". The mock backend is for development only.
	Name string `mapstructure:"name"`

	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`

	// TurnTimeout bounds a single model call during a run.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`

	// RequestsPerMinute rate-limits outbound model calls. 0 disables.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// RedisConfig configures the optional Redis persistence backend.
// An empty Addr selects in-memory stores.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// S3Config configures the optional transcript archive bucket.
// An empty Bucket selects the in-memory object store.
type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
}

// PromptsConfig configures prompt version seeding.
type PromptsConfig struct {
	// Pack is the path to a PromptPack manifest used to seed an empty
	// version store. Empty selects the built-in default prompt.
	Pack string `mapstructure:"pack"`
}

// Load reads configuration from the given file (optional) and the
// environment. Environment variables use the VOICEFLOW_ prefix with
// underscores, e.g. VOICEFLOW_PROVIDER_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("provider.name", "gemini")
	v.SetDefault("provider.model", "gemini-2.0-flash")
	v.SetDefault("provider.turn_timeout", "60s")

	v.SetEnvPrefix("VOICEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider.Name {
	case "gemini":
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_key is required for the gemini provider")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown provider: %q", c.Provider.Name)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
