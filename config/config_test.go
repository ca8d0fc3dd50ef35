package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Jobs.Backend)
	assert.Equal(t, 3, cfg.Jobs.MaxAttempts)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
}

func TestLoad_AppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syllabus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  path: /data/books
jobs:
  timeout: 45s
  workers: 9
ai:
  embedding_host: http://gpu:8080
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/books", cfg.Storage.Path)
	assert.Equal(t, 45*time.Second, cfg.Jobs.Timeout)
	assert.Equal(t, 9, cfg.Jobs.Workers)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.ResultTTL)
	assert.Equal(t, "http://gpu:8080", cfg.AI.GeneratorHost)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Storage.Shards = []ShardConfig{{Name: "s1", Path: "/data/s1"}}
	cfg.Jobs.BaseDelay = 250 * time.Millisecond
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SYLLABUS_DB":              "/tmp/db",
		"SYLLABUS_REDIS_ADDR":      "redis:6379",
		"SYLLABUS_EMBEDDING_MODEL": "nomic-embed-text",
		"SYLLABUS_WORKERS":         "2",
	}
	cfg := Default()
	require.NoError(t, applyEnv(cfg, func(k string) string { return env[k] }))
	assert.Equal(t, "/tmp/db", cfg.Storage.Path)
	assert.Equal(t, BackendRedis, cfg.Jobs.Backend)
	assert.Equal(t, "redis:6379", cfg.Jobs.RedisAddr)
	assert.Equal(t, "nomic-embed-text", cfg.AI.EmbeddingModel)
	assert.Equal(t, 2, cfg.Jobs.Workers)

	env["SYLLABUS_WORKERS"] = "many"
	assert.Error(t, applyEnv(Default(), func(k string) string { return env[k] }))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr bool
	}{
		{"defaults", func(c *AppConfig) {}, false},
		{"redis without addr", func(c *AppConfig) { c.Jobs.Backend = BackendRedis }, true},
		{"redis with addr", func(c *AppConfig) { c.Jobs.Backend, c.Jobs.RedisAddr = BackendRedis, "localhost:6379" }, false},
		{"unknown backend", func(c *AppConfig) { c.Jobs.Backend = "etcd" }, true},
		{"duplicate shard", func(c *AppConfig) {
			c.Storage.Shards = []ShardConfig{{Name: "a", Path: "/a"}, {Name: "a", Path: "/b"}}
		}, true},
		{"shard named primary", func(c *AppConfig) { c.Storage.Shards = []ShardConfig{{Name: "primary", Path: "/a"}} }, true},
		{"shard without path", func(c *AppConfig) { c.Storage.Shards = []ShardConfig{{Name: "a"}} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAIConfig(t *testing.T) {
	t.Setenv("TEST_SYLLABUS_TOKEN", "secret")
	cfg := Default()
	cfg.AI.APITokenEnv = "TEST_SYLLABUS_TOKEN"
	cfg.AI.EmbeddingModel = "mxbai-embed-large"

	aiCfg := cfg.AIConfig()
	assert.Equal(t, "secret", aiCfg.APIToken)
	assert.Equal(t, "mxbai-embed-large", aiCfg.EmbeddingModel)
}
