package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Ollama   OllamaConfig
	Embed    EmbedConfig
	Patterns PatternsConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level string
}

// StorageConfig selects the primary store. Driver is one of "sqlite",
// "postgres" or "none"; "none" keeps everything in the fallback file.
type StorageConfig struct {
	Driver         string
	DataDir        string
	DatabaseURL    string
	FallbackFile   string
	HealthInterval string
}

type LLMConfig struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Mock     bool
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type EmbedConfig struct {
	Provider    string
	Model       string
	GenAIAPIKey string
}

type PatternsConfig struct {
	MinSimilarity    float64
	ReinforceByName  bool
	BackfillInterval string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Driver:         "sqlite",
			DataDir:        defaultDataDir(),
			HealthInterval: "60s",
		},
		LLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		Embed: EmbedConfig{
			Provider: "genai",
			Model:    "text-embedding-004",
		},
		Patterns: PatternsConfig{
			MinSimilarity:    0.5,
			ReinforceByName:  true,
			BackfillInterval: "30s",
		},
	}
}

// Load reads configuration from the TOML file backend and applies SPECFORGE_*
// environment overrides on top. Secrets are only read from the environment.
//
// The file lives at $XDG_CONFIG_HOME/specforge/config.toml (falling back to
// ~/.config/specforge/config.toml).
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" && !cfg.LLM.Mock {
			return fmt.Errorf("missing required config: LLM API key. " +
				"Set it via environment variable SPECFORGE_LLM_API_KEY, or set llm.mock = true")
		}
	case "ollama":
	default:
		return fmt.Errorf("invalid llm.provider %q: want openai or ollama", cfg.LLM.Provider)
	}

	switch cfg.Embed.Provider {
	case "genai":
		if cfg.Embed.GenAIAPIKey == "" {
			return fmt.Errorf("missing required config: GenAI API key for embeddings. " +
				"Set it via environment variable SPECFORGE_GENAI_API_KEY, or set embed.provider = \"ollama\"")
		}
	case "ollama":
	default:
		return fmt.Errorf("invalid embed.provider %q: want genai or ollama", cfg.Embed.Provider)
	}

	switch cfg.Storage.Driver {
	case "sqlite", "none":
	case "postgres":
		if cfg.Storage.DatabaseURL == "" {
			slog.Warn("storage.driver is postgres but no database URL is set, using JSON fallback only",
				"env", "SPECFORGE_DATABASE_URL")
		}
	default:
		return fmt.Errorf("invalid storage.driver %q: want sqlite, postgres or none", cfg.Storage.Driver)
	}

	for key, raw := range map[string]string{
		"storage.health_interval":    cfg.Storage.HealthInterval,
		"patterns.backfill_interval": cfg.Patterns.BackfillInterval,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}

	if cfg.Patterns.MinSimilarity < 0 || cfg.Patterns.MinSimilarity > 1 {
		return fmt.Errorf("patterns.min_similarity must be within [0,1], got %v", cfg.Patterns.MinSimilarity)
	}
	return nil
}

// HealthIntervalDuration returns the parsed primary-store health check interval.
func (c StorageConfig) HealthIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.HealthInterval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// FallbackPath returns the JSON fallback file location.
func (c StorageConfig) FallbackPath() string {
	if c.FallbackFile != "" {
		return c.FallbackFile
	}
	return filepath.Join(c.DataDir, "learned-preferences.json")
}

func (c PatternsConfig) BackfillIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.BackfillInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// SlogLevel maps log.level to a slog.Level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "specforge-data"
		}
	}
	return filepath.Join(dir, "specforge")
}
