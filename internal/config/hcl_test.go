package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := NewHCLLoader().Load(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.MockMode)
	assert.Nil(t, cfg.Database)
	assert.Nil(t, cfg.Blob)
	assert.Nil(t, cfg.LLM)
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
log_level             = "debug"
log_format            = "json"
healthcheck_port      = 8080
concurrency           = 8
stage_timeout_seconds = 120
pause_for_inspection  = true

database {
  url = "postgres://localhost/assets"
}

blob {
  bucket = "project-documents"
  region = "ap-southeast-2"
}

llm {
  provider = "openai"
  model    = "gpt-4o"
}
`)

	cfg, err := NewHCLLoader().Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 8080, cfg.HealthcheckPort)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 120, cfg.StageTimeoutSec)
	assert.True(t, cfg.PauseForReview)
	require.NotNil(t, cfg.Database)
	assert.Equal(t, "postgres://localhost/assets", cfg.Database.URL)
	require.NotNil(t, cfg.Blob)
	assert.Equal(t, "project-documents", cfg.Blob.Bucket)
	assert.Equal(t, "ap-southeast-2", cfg.Blob.Region)
	require.NotNil(t, cfg.LLM)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestLoadEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_DATABASE_URL", "postgres://db.internal/assets")
	path := writeConfig(t, `
database {
  url = env.TEST_DATABASE_URL
}
`)

	cfg, err := NewHCLLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Database)
	assert.Equal(t, "postgres://db.internal/assets", cfg.Database.URL)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := writeConfig(t, `
blob {
  bucket = "project-documents"
}

llm {}
`)

	cfg, err := NewHCLLoader().Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 4, cfg.Concurrency)
	require.NotNil(t, cfg.Blob)
	assert.Equal(t, 900, cfg.Blob.PresignTTLSec)
	require.NotNil(t, cfg.LLM)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewHCLLoader().Load(context.Background(), filepath.Join(t.TempDir(), "absent.hcl"))
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, `log_level = `)
	_, err := NewHCLLoader().Load(context.Background(), path)
	require.Error(t, err)
}
