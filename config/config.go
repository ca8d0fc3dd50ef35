// Package config loads the syllabus configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/syllabus/ai"
)

// Job store backends.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// ShardConfig names one additional content shard.
type ShardConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// StorageConfig locates the badger databases.
type StorageConfig struct {
	Path           string        `yaml:"path"`
	Shards         []ShardConfig `yaml:"shards,omitempty"`
	ShardThreshold int           `yaml:"shard_threshold"`
}

// AIConfig configures the OpenAI-compatible model endpoints.
type AIConfig struct {
	EmbeddingHost  string `yaml:"embedding_host"`
	GeneratorHost  string `yaml:"generator_host"`
	EmbeddingModel string `yaml:"embedding_model"`
	GeneratorModel string `yaml:"generator_model"`
	APITokenEnv    string `yaml:"api_token_env"`
	MinImportance  int    `yaml:"min_importance"`
	MaxTopics      int    `yaml:"max_topics"`
}

// IngestionConfig tunes the ingestion pipeline.
type IngestionConfig struct {
	PoolSize   int           `yaml:"pool_size"`
	BatchSize  int           `yaml:"batch_size"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// SearchConfig bounds retrieval.
type SearchConfig struct {
	MaxLimit int `yaml:"max_limit"`
}

// JobsConfig configures the job store and workers.
type JobsConfig struct {
	Backend        string        `yaml:"backend"`
	RedisAddr      string        `yaml:"redis_addr,omitempty"`
	RedisPrefix    string        `yaml:"redis_prefix,omitempty"`
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	ResultTTL      time.Duration `yaml:"result_ttl"`
	Retention      time.Duration `yaml:"retention"`
	GroundingLimit int           `yaml:"grounding_limit"`
}

// AppConfig is the root configuration.
type AppConfig struct {
	LogLevel  string          `yaml:"log_level"`
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Search    SearchConfig    `yaml:"search"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

// Load reads a config from path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			return cfg, applyEnv(cfg, os.Getenv)
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./syllabus.yaml first, then ~/.config/syllabus/config.yaml.
// If neither exists, it writes defaults to ~/.config/syllabus/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "syllabus.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, Default()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "syllabus", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	aiDefaults := ai.DefaultConfig()
	return &AppConfig{
		LogLevel: "info",
		Storage: StorageConfig{
			Path:           "./syllabus_db",
			ShardThreshold: 250_000,
		},
		AI: AIConfig{
			EmbeddingHost:  aiDefaults.EmbeddingHost,
			GeneratorHost:  aiDefaults.GeneratorHost,
			EmbeddingModel: aiDefaults.EmbeddingModel,
			GeneratorModel: aiDefaults.GeneratorModel,
			APITokenEnv:    "SYLLABUS_API_TOKEN",
			MinImportance:  aiDefaults.MinImportance,
			MaxTopics:      aiDefaults.MaxTopics,
		},
		Ingestion: IngestionConfig{
			BatchSize:  32,
			StaleAfter: time.Hour,
		},
		Search: SearchConfig{MaxLimit: 100},
		Jobs: JobsConfig{
			Backend:        BackendBadger,
			RedisPrefix:    "syllabus",
			Workers:        4,
			MaxAttempts:    3,
			BaseDelay:      500 * time.Millisecond,
			Timeout:        2 * time.Minute,
			ResultTTL:      24 * time.Hour,
			Retention:      7 * 24 * time.Hour,
			GroundingLimit: 8,
		},
	}
}

func applyDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = def.Storage.Path
	}
	if cfg.Storage.ShardThreshold == 0 {
		cfg.Storage.ShardThreshold = def.Storage.ShardThreshold
	}
	if cfg.AI.EmbeddingHost == "" {
		cfg.AI.EmbeddingHost = def.AI.EmbeddingHost
	}
	if cfg.AI.GeneratorHost == "" {
		cfg.AI.GeneratorHost = cfg.AI.EmbeddingHost
	}
	if cfg.AI.EmbeddingModel == "" {
		cfg.AI.EmbeddingModel = def.AI.EmbeddingModel
	}
	if cfg.AI.GeneratorModel == "" {
		cfg.AI.GeneratorModel = def.AI.GeneratorModel
	}
	if cfg.AI.APITokenEnv == "" {
		cfg.AI.APITokenEnv = def.AI.APITokenEnv
	}
	if cfg.AI.MinImportance == 0 {
		cfg.AI.MinImportance = def.AI.MinImportance
	}
	if cfg.AI.MaxTopics == 0 {
		cfg.AI.MaxTopics = def.AI.MaxTopics
	}
	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = def.Ingestion.BatchSize
	}
	if cfg.Ingestion.StaleAfter == 0 {
		cfg.Ingestion.StaleAfter = def.Ingestion.StaleAfter
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = def.Search.MaxLimit
	}
	jobs, dj := &cfg.Jobs, def.Jobs
	if jobs.Backend == "" {
		jobs.Backend = dj.Backend
	}
	if jobs.RedisPrefix == "" {
		jobs.RedisPrefix = dj.RedisPrefix
	}
	if jobs.Workers == 0 {
		jobs.Workers = dj.Workers
	}
	if jobs.MaxAttempts == 0 {
		jobs.MaxAttempts = dj.MaxAttempts
	}
	if jobs.BaseDelay == 0 {
		jobs.BaseDelay = dj.BaseDelay
	}
	if jobs.Timeout == 0 {
		jobs.Timeout = dj.Timeout
	}
	if jobs.ResultTTL == 0 {
		jobs.ResultTTL = dj.ResultTTL
	}
	if jobs.Retention == 0 {
		jobs.Retention = dj.Retention
	}
	if jobs.GroundingLimit == 0 {
		jobs.GroundingLimit = dj.GroundingLimit
	}
}

// applyEnv overrides file settings with SYLLABUS_* environment variables.
func applyEnv(cfg *AppConfig, getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("SYLLABUS_LOG_LEVEL", &cfg.LogLevel)
	setString("SYLLABUS_DB", &cfg.Storage.Path)
	setString("SYLLABUS_EMBEDDING_HOST", &cfg.AI.EmbeddingHost)
	setString("SYLLABUS_GENERATOR_HOST", &cfg.AI.GeneratorHost)
	setString("SYLLABUS_EMBEDDING_MODEL", &cfg.AI.EmbeddingModel)
	setString("SYLLABUS_GENERATOR_MODEL", &cfg.AI.GeneratorModel)

	if addr := getenv("SYLLABUS_REDIS_ADDR"); addr != "" {
		cfg.Jobs.Backend = BackendRedis
		cfg.Jobs.RedisAddr = addr
	}
	if v := getenv("SYLLABUS_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SYLLABUS_WORKERS: %w", err)
		}
		cfg.Jobs.Workers = n
	}
	return nil
}

// Validate checks settings that have no usable default.
func (c *AppConfig) Validate() error {
	switch c.Jobs.Backend {
	case BackendBadger:
	case BackendRedis:
		if c.Jobs.RedisAddr == "" {
			return errors.New("jobs.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown jobs backend %q", c.Jobs.Backend)
	}
	seen := map[string]bool{"primary": true}
	for _, shard := range c.Storage.Shards {
		if shard.Name == "" || shard.Path == "" {
			return errors.New("every shard needs a name and a path")
		}
		if seen[shard.Name] {
			return fmt.Errorf("duplicate shard %q", shard.Name)
		}
		seen[shard.Name] = true
	}
	return c.AIConfig().Validate()
}

// AIConfig builds the model client configuration. The API token is read from
// the environment variable named by APITokenEnv.
func (c *AppConfig) AIConfig() *ai.Config {
	opts := []ai.ConfigOption{
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGeneratorHost(c.AI.GeneratorHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGeneratorModel(c.AI.GeneratorModel),
		ai.WithMinImportance(c.AI.MinImportance),
		ai.WithMaxTopics(c.AI.MaxTopics),
	}
	if token := os.Getenv(c.AI.APITokenEnv); token != "" {
		opts = append(opts, ai.WithAPIToken(token))
	}
	return ai.NewConfig(opts...)
}
