package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.RetryTimeout())
	assert.Equal(t, 5, cfg.Login.AttemptCeiling)
	assert.Equal(t, 15*time.Minute, cfg.CounterTTL())
	assert.Equal(t, time.Hour, cfg.CodeTTL())
	assert.Equal(t, 50, cfg.Batch.ChunkSize)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxBodyBytes())
	assert.Equal(t, "SHOPMESH_JWT_SECRET", cfg.Auth.JWTSecretEnv)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
max_body_size: 2MB
store:
  backend: s3
  bucket: shop-content
  region: eu-west-1
  endpoint: http://localhost:9000
  path_style: true
retry:
  max_retries: 5
  timeout: 30s
login:
  attempt_ceiling: 3
  counter_ttl: 10m
batch:
  chunk_size: 25
auth:
  admin_key_hashes:
    - 9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, int64(2*1024*1024), cfg.MaxBodyBytes())
	assert.Equal(t, "shop-content", cfg.Store.Bucket)
	assert.True(t, cfg.Store.PathStyle)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 3, cfg.Login.AttemptCeiling)
	assert.Equal(t, 25, cfg.Batch.ChunkSize)
	assert.Len(t, cfg.Auth.AdminKeyHashes, 1)
}

func TestLoadS3RequiresBucket(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: s3
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "store.bucket")
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: dynamo
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestLoadRejectsBadBodySize(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: memory
max_body_size: huge
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, `invalid size "huge"`)
}

func TestLoadRejectsNegativeCounts(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: memory
retry:
  max_retries: -1
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "retry.max_retries")

	path = writeConfig(t, `
store:
  backend: memory
login:
  attempt_ceiling: -3
`)
	_, err = Load(path)
	assert.ErrorContains(t, err, "login.attempt_ceiling")
}

// Zero and unset are both replaced by the documented defaults; the knobs
// have a floor of one.
func TestZeroCountsFallBackToDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: memory
retry:
  max_retries: 0
login:
  attempt_ceiling: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 5, cfg.Login.AttemptCeiling)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: memory
retry:
  timeout: soon
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "retry.timeout")
}

func TestLoadRejectsBadAdminHash(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: memory
auth:
  admin_key_hashes:
    - not-a-digest
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "admin_key_hashes")
}

func TestJWTSecretFromEnv(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecretEnv = "SHOPMESH_TEST_SECRET"

	_, err := cfg.JWTSecret()
	assert.Error(t, err)

	t.Setenv("SHOPMESH_TEST_SECRET", "hunter2")
	secret, err := cfg.JWTSecret()
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), secret)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "shopmesh.yaml"), ExpandPath("~/shopmesh.yaml"))
	assert.Equal(t, "/etc/shopmesh.yaml", ExpandPath("/etc/shopmesh.yaml"))
}
