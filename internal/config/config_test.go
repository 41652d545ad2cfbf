package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, 100, cfg.Audit.QueryLimit)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
  shutdown_timeout: 5s
storage:
  backend: s3
  endpoint: minio:9000
  bucket: docvault
`), 0o644))

	t.Setenv("DOCVAULT_HTTP_ADDR", ":7070")
	t.Setenv("DOCVAULT_S3_USE_TLS", "true")
	t.Setenv("DOCVAULT_STORAGE_RATE_LIMIT", "2.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTP.Addr, "environment wins over file")
	require.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	require.Equal(t, "s3", cfg.Storage.Backend)
	require.Equal(t, "minio:9000", cfg.Storage.Endpoint)
	require.True(t, cfg.Storage.UseTLS)
	require.Equal(t, 2.5, cfg.Storage.RateLimit)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: ftp
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingS3Fields(t *testing.T) {
	t.Setenv("DOCVAULT_STORAGE_BACKEND", "s3")
	_, err := Load("")
	require.Error(t, err, "s3 backend needs endpoint and bucket")
}
