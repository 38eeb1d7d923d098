// Package common provides shared utilities for the Vire assistant
package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the assistant
type Config struct {
	Environment    string          `toml:"environment"`
	DefaultTickers []string        `toml:"default_tickers"`
	Server         ServerConfig    `toml:"server"`
	Clients        ClientsConfig   `toml:"clients"`
	Embedding      EmbeddingConfig `toml:"embedding"`
	Pipeline       PipelineConfig  `toml:"pipeline"`
	Storage        StorageConfig   `toml:"storage"`
	Logging        LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	EODHD  EODHDConfig  `toml:"eodhd"`
	Gemini GeminiConfig `toml:"gemini"`
	OpenAI OpenAIConfig `toml:"openai"`
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *EODHDConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// GeminiConfig holds Gemini API configuration
type GeminiConfig struct {
	APIKey         string `toml:"api_key"`
	EmbeddingModel string `toml:"embedding_model"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	EmbeddingModel string `toml:"embedding_model"`
}

// EmbeddingConfig selects the embedding provider used by the vector store.
type EmbeddingConfig struct {
	Provider   string `toml:"provider"`   // local, gemini, openai
	Dimensions int    `toml:"dimensions"` // local and gemini; openai uses the model size
}

// PipelineConfig holds the query pipeline tuning knobs.
type PipelineConfig struct {
	TopK          int     `toml:"top_k"`
	MinScore      float64 `toml:"min_score"`
	NewsLimit     int     `toml:"news_limit"`
	MarketTimeout string  `toml:"market_timeout"`
	EmbedTimeout  string  `toml:"embed_timeout"`
}

// GetMarketTimeout parses and returns the market data stage timeout
func (c *PipelineConfig) GetMarketTimeout() time.Duration {
	return parseDuration(c.MarketTimeout, 30*time.Second)
}

// GetEmbedTimeout parses and returns the embedding call timeout
func (c *PipelineConfig) GetEmbedTimeout() time.Duration {
	return parseDuration(c.EmbedTimeout, 30*time.Second)
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Journal JournalConfig `toml:"journal"`
}

// JournalConfig holds the query journal location.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment:    "development",
		DefaultTickers: []string{"AAPL", "TSMC", "NVDA"},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8005,
		},
		Clients: ClientsConfig{
			EODHD: EODHDConfig{
				BaseURL:   "https://eodhd.com/api",
				RateLimit: 10,
				Timeout:   "30s",
			},
			Gemini: GeminiConfig{
				EmbeddingModel: "gemini-embedding-001",
			},
			OpenAI: OpenAIConfig{
				EmbeddingModel: "text-embedding-3-small",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "local",
			Dimensions: 256,
		},
		Pipeline: PipelineConfig{
			TopK:          3,
			MinScore:      0.3,
			NewsLimit:     2,
			MarketTimeout: "30s",
			EmbedTimeout:  "30s",
		},
		Storage: StorageConfig{
			Journal: JournalConfig{
				Enabled: true,
				Path:    "data/journal.db",
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Outputs:  []string{"console"},
			FilePath: "./logs/vire-assistant.log",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	normalizePipeline(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VIRE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("VIRE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("VIRE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("VIRE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("VIRE_EMBEDDER"); v != "" {
		config.Embedding.Provider = strings.ToLower(v)
	}

	if path := os.Getenv("VIRE_DATA_PATH"); path != "" {
		config.Storage.Journal.Path = filepath.Join(path, "journal.db")
	}

	if v := os.Getenv("VIRE_DEFAULT_TICKERS"); v != "" {
		var tickers []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				tickers = append(tickers, t)
			}
		}
		if len(tickers) > 0 {
			config.DefaultTickers = tickers
		}
	}
}

// normalizePipeline replaces out-of-range pipeline values with defaults.
func normalizePipeline(config *Config) {
	if config.Pipeline.TopK < 1 {
		config.Pipeline.TopK = 3
	}
	if config.Pipeline.NewsLimit < 1 {
		config.Pipeline.NewsLimit = 2
	}
	if config.Embedding.Dimensions < 1 {
		config.Embedding.Dimensions = 256
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves an API key from environment or the config fallback
func ResolveAPIKey(_ context.Context, name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"eodhd_api_key":  {"EODHD_API_KEY", "VIRE_EODHD_API_KEY"},
		"gemini_api_key": {"GEMINI_API_KEY", "VIRE_GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"openai_api_key": {"OPENAI_API_KEY", "VIRE_OPENAI_API_KEY"},
	}

	// Environment variables take priority
	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}
