package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location relative to the working dir.
const ConfigPath = "config/api.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string `yaml:"port"`
	DatabaseURL    string `yaml:"databaseURL"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	AuthServiceURL string `yaml:"authServiceURL"`
	LogLevel       string `yaml:"logLevel"`

	// Text generation backend. Provider is "openai" (any OpenAI-compatible
	// endpoint) or "ollama".
	LLMProvider string `yaml:"llmProvider"`
	LLMBaseURL  string `yaml:"llmBaseURL"`
	LLMAPIKey   string `yaml:"llmAPIKey"`
	LLMModel    string `yaml:"llmModel"`

	RegisterRateLimitPerMin int `yaml:"registerRateLimitPerMin"`
	LoginRateLimitPerMin    int `yaml:"loginRateLimitPerMin"`
}

// Load reads config from path (defaults to ConfigPath).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AUTH_SERVICE_URL"); v != "" {
		cfg.AuthServiceURL = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config/api.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config/api.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config/api.yaml or REDIS_ADDR)")
	}
	if cfg.AuthServiceURL == "" {
		return errors.New("config: authServiceURL is required (set in config/api.yaml or AUTH_SERVICE_URL)")
	}
	if cfg.LLMBaseURL == "" {
		return errors.New("config: llmBaseURL is required (set in config/api.yaml or LLM_BASE_URL)")
	}
	if cfg.LLMModel == "" {
		return errors.New("config: llmModel is required (set in config/api.yaml or LLM_MODEL)")
	}
	return nil
}
