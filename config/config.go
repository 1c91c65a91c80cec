// Package config loads the service configuration: compiled-in defaults, then an optional
// YAML file, then JARVIS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override config keys.
// Nested keys use a double underscore: JARVIS_LLM__API_KEY -> llm.api_key.
const EnvPrefix = "JARVIS_"

type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Server    ServerConfig    `koanf:"server"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Corpus    CorpusConfig    `koanf:"corpus"`
	Cache     CacheConfig     `koanf:"cache"`
	LLM       LLMConfig       `koanf:"llm"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Learning  LearningConfig  `koanf:"learning"`
	Log       LogConfig       `koanf:"log"`
	Redis     RedisConfig     `koanf:"redis"`
	Spotify   SpotifyConfig   `koanf:"spotify"`
}

type LoggingConfig struct {
	Mode  string `koanf:"mode" validate:"oneof=development production"`
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

type ServerConfig struct {
	Addr              string        `koanf:"addr" validate:"required"`
	RequestsPerMinute int           `koanf:"requests_per_minute" validate:"gte=0"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string `koanf:"cors_origins"`
}

type CatalogConfig struct {
	Path string `koanf:"path"`
}

type CorpusConfig struct {
	Dir      string  `koanf:"dir" validate:"required"`
	TopK     int     `koanf:"top_k" validate:"min=1,max=50"`
	MinScore float64 `koanf:"min_score" validate:"gte=-1,lte=1"`
}

type CacheConfig struct {
	Backend  string `koanf:"backend" validate:"oneof=file badger redis none"`
	Path     string `koanf:"path"`
	RedisKey string `koanf:"redis_key"`
}

type LLMConfig struct {
	Provider        string        `koanf:"provider" validate:"oneof=openai ollama none"`
	Model           string        `koanf:"model"`
	BaseURL         string        `koanf:"base_url" validate:"omitempty,url"`
	APIKey          string        `koanf:"api_key"`
	Timeout         time.Duration `koanf:"timeout" validate:"gte=0"`
	MaxOutputTokens int64         `koanf:"max_output_tokens" validate:"gte=0"`
}

type EmbeddingConfig struct {
	Provider  string `koanf:"provider" validate:"oneof=openai ollama"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url" validate:"omitempty,url"`
	APIKey    string `koanf:"api_key"`
	BatchSize int    `koanf:"batch_size" validate:"gte=0"`
}

type LearningConfig struct {
	Store          string  `koanf:"store" validate:"oneof=memory file redis"`
	Path           string  `koanf:"path"`
	RedisPrefix    string  `koanf:"redis_prefix"`
	Threshold      float64 `koanf:"threshold" validate:"gte=0,lte=1"`
	BookPolicy     string  `koanf:"book_policy" validate:"required"`
	PlaylistPolicy string  `koanf:"playlist_policy" validate:"required"`
}

type LogConfig struct {
	Backend string `koanf:"backend" validate:"oneof=jsonl sqlite"`
	Path    string `koanf:"path" validate:"required"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

type SpotifyConfig struct {
	Enabled      bool          `koanf:"enabled"`
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	RefreshToken string        `koanf:"refresh_token"`
	APIBase      string        `koanf:"api_base" validate:"omitempty,url"`
	TokenURL     string        `koanf:"token_url" validate:"omitempty,url"`
	Timeout      time.Duration `koanf:"timeout" validate:"gte=0"`
}

const (
	DefaultBookPolicy     = "confidence >= threshold && book_count > 0"
	DefaultPlaylistPolicy = "confidence >= threshold && playlist_count > 0"
)

func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Mode: "development", Level: "info"},
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerMinute: 60,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      90 * time.Second,
		},
		Corpus: CorpusConfig{Dir: "data/books", TopK: 5, MinScore: 0.3},
		Cache:  CacheConfig{Backend: "file", Path: "data/cache/index.json", RedisKey: "jarvis:index"},
		LLM: LLMConfig{
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			Timeout:         20 * time.Second,
			MaxOutputTokens: 800,
		},
		Embedding: EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", BatchSize: 256},
		Learning: LearningConfig{
			Store:          "file",
			Path:           "data/learning.json",
			RedisPrefix:    "jarvis:prefs",
			Threshold:      0.3,
			BookPolicy:     DefaultBookPolicy,
			PlaylistPolicy: DefaultPlaylistPolicy,
		},
		Log:     LogConfig{Backend: "jsonl", Path: "data/interactions.jsonl"},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Spotify: SpotifyConfig{Timeout: 15 * time.Second},
	}
}

// Load layers defaults, the YAML file at path (skipped when path is empty) and the
// environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	// Comma-separated values for list keys are split by the default decode hook.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps JARVIS_LLM__API_KEY to llm.api_key.
func envKey(name string) string {
	key := strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error
	if c.Cache.Backend == "file" || c.Cache.Backend == "badger" {
		if c.Cache.Path == "" {
			errs = append(errs, fmt.Errorf("cache.path is required for backend %q", c.Cache.Backend))
		}
	}
	if c.Learning.Store == "file" && c.Learning.Path == "" {
		errs = append(errs, errors.New("learning.path is required for store \"file\""))
	}
	if (c.Cache.Backend == "redis" || c.Learning.Store == "redis") && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when a redis backend is selected"))
	}
	if c.LLM.Provider != "none" && c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.Spotify.Enabled && (c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" || c.Spotify.RefreshToken == "") {
		errs = append(errs, errors.New("spotify.enabled requires client_id, client_secret and refresh_token"))
	}
	return errors.Join(errs...)
}
