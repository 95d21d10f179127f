package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/RichardoC/matrixchat/internal/db"
	"github.com/RichardoC/matrixchat/internal/llm"
)

type Server struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8080"`
}

type Database struct {
	Driver   string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	DSN      string `yaml:"dsn" env:"DB_DSN" env-default:"matrixchat.db"`
	LogLevel string `yaml:"log_level" env:"DB_LOG_LEVEL" env-default:"silent"`
}

type LLM struct {
	BaseURL          string  `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.groq.com/openai/v1"`
	APIKey           string  `yaml:"-" env:"LLM_API_KEY"`
	Model            string  `yaml:"model" env:"LLM_MODEL" env-default:"llama-3.3-70b-versatile"`
	Persona          string  `yaml:"persona" env:"LLM_PERSONA"`
	Temperature      float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.7"`
	MaxTokens        int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
	MaxHistoryTokens int     `yaml:"max_history_tokens" env:"LLM_MAX_HISTORY_TOKENS" env-default:"0"`
}

type Redis struct {
	// Addr enables the conversation list cache when set.
	Addr string        `yaml:"addr" env:"REDIS_ADDR"`
	TTL  time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"5m"`
}

type Log struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

type Client struct {
	ServerURL string        `yaml:"server_url" env:"SERVER_URL" env-default:"http://localhost:8080"`
	Timeout   time.Duration `yaml:"timeout" env:"CLIENT_TIMEOUT" env-default:"60s"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	LLM      LLM      `yaml:"llm"`
	Redis    Redis    `yaml:"redis"`
	Log      Log      `yaml:"log"`
	Client   Client   `yaml:"client"`
}

// Load reads the YAML file at cfgPath, if any, then applies environment overrides.
func Load(cfgPath string) (*Config, error) {
	var cfg Config
	if cfgPath != "" {
		if err := cleanenv.ReadConfig(cfgPath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgPath, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case db.DriverSQLite, db.DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if _, err := db.ParseGormLogLevel(c.Database.LogLevel); err != nil {
		return err
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2, got %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.MaxHistoryTokens < 0 {
		return fmt.Errorf("LLM_MAX_HISTORY_TOKENS must not be negative, got %d", c.LLM.MaxHistoryTokens)
	}
	return nil
}

func (c LLM) GatewayConfig() llm.Config {
	return llm.Config{
		BaseURL:          c.BaseURL,
		APIKey:           c.APIKey,
		Model:            c.Model,
		Persona:          c.Persona,
		Temperature:      c.Temperature,
		MaxTokens:        c.MaxTokens,
		MaxHistoryTokens: c.MaxHistoryTokens,
	}
}
