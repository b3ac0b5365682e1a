package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/blobcache/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BLOBCACHE_STORAGE_DIR", t.TempDir())
	t.Setenv("BLOBCACHE_AUTH_TOKEN", "test-token")

	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/api", cfg.Server.APIBase)
	assert.Equal(t, "v1", cfg.Server.APIVersion)
	assert.Equal(t, "filesystem", cfg.Storage.Backend)
	assert.Equal(t, int64(100), cfg.Storage.MaxFileSizeMB)
	assert.Equal(t, "json", cfg.Metadata.Backend)
	assert.True(t, cfg.Storage.EnableDeduplication)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
server:
  port: 9090
  api_base: /storage
  api_version: v2
storage:
  dir: /data/blobs
  backend: s3
  max_file_size_mb: 500
metadata:
  backend: postgres
  dsn: postgres://localhost/test
auth:
  enabled: true
  token: supersecret
reaper:
  cleanup_cron: "*/5 * * * *"
  cleanup_batch_size: 50
  orphan_cron: "*/20 * * * *"
  orphan_grace_window_sec: 120
log:
  level: debug
  env: production
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := config.Load([]string{configPath}, nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/storage", cfg.Server.APIBase)
	assert.Equal(t, "v2", cfg.Server.APIVersion)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, int64(500), cfg.Storage.MaxFileSizeMB)
	assert.Equal(t, "postgres", cfg.Metadata.Backend)
	assert.Equal(t, "postgres://localhost/test", cfg.Metadata.DSN)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "supersecret", cfg.Auth.Token)
	assert.Equal(t, 50, cfg.Reaper.CleanupBatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "production", cfg.Log.Env)
}

func TestLoad_ConfigFileMerge(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("BLOBCACHE_STORAGE_DIR", tmpDir)
	t.Setenv("BLOBCACHE_AUTH_TOKEN", "test-token")

	basePath := filepath.Join(tmpDir, "base.yaml")
	base := `
server:
  port: 8080
storage:
  backend: filesystem
metadata:
  backend: json
log:
  level: info
`
	require.NoError(t, os.WriteFile(basePath, []byte(base), 0o644))

	overridePath := filepath.Join(tmpDir, "override.yaml")
	override := `
server:
  port: 9000
log:
  level: debug
`
	require.NoError(t, os.WriteFile(overridePath, []byte(override), 0o644))

	cfg, err := config.Load([]string{basePath, overridePath}, nil)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "filesystem", cfg.Storage.Backend)
	assert.Equal(t, "json", cfg.Metadata.Backend)
}

func TestLoad_ValidationError_InvalidPort(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("BLOBCACHE_STORAGE_DIR", tmpDir)
	t.Setenv("BLOBCACHE_AUTH_TOKEN", "test-token")
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
server:
  port: 99999
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	_, err := config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_ValidationError_InvalidStorageBackend(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("BLOBCACHE_STORAGE_DIR", tmpDir)
	t.Setenv("BLOBCACHE_AUTH_TOKEN", "test-token")
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
storage:
  backend: ftp
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	_, err := config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_ValidationError_InvalidLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("BLOBCACHE_STORAGE_DIR", tmpDir)
	t.Setenv("BLOBCACHE_AUTH_TOKEN", "test-token")
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
log:
  level: shout
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	_, err := config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_AuthEnabledRequiresToken(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
auth:
  enabled: true
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	_, err := config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.token is required")
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BLOBCACHE_STORAGE_DIR", t.TempDir())
	t.Setenv("BLOBCACHE_AUTH_TOKEN", "test-token")
	t.Setenv("BLOBCACHE_SERVER_PORT", "7070")
	t.Setenv("BLOBCACHE_METADATA_BACKEND", "kv")

	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "kv", cfg.Metadata.Backend)
}

func TestLoad_WithFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BLOBCACHE_STORAGE_DIR", t.TempDir())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "port")
	flags.String("auth-token", "", "auth token")
	require.NoError(t, flags.Set("port", "9999"))
	require.NoError(t, flags.Set("auth-token", "fromflag"))

	cfg, err := config.Load(nil, flags)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "fromflag", cfg.Auth.Token)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BLOBCACHE_STORAGE_DIR", t.TempDir())
	t.Setenv("BLOBCACHE_AUTH_TOKEN", "test-token")

	cfg, err := config.Load([]string{"/nonexistent/config.yaml"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestWithContext_FromContext(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Port: 8080}}

	ctx := config.WithContext(context.Background(), cfg)

	retrieved, err := config.FromContext(ctx)
	require.NoError(t, err)
	assert.Same(t, cfg, retrieved)
}

func TestFromContext_NotFound(t *testing.T) {
	_, err := config.FromContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config not found")
}
