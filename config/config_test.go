package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfiguration(t *testing.T) {
	dir := t.TempDir()
	content := `
log_level = "DEBUG"

[server]
addr = "127.0.0.1:9000"

[auth]
jwt_secret = "s3cret"

[[auth.oidc]]
name = "google"
client_id = "client-123"
provider_url = "https://accounts.google.com"

[persistence]
type = "sqlite"
dsn = "file:teamloop.db"

[cache]
type = "redis"
addr = "localhost:6379"

[limits]
page_size = 25
`
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := ReadConfiguration(path, GetFlagSet())
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.AuthConfig.JWTSecret)
	require.Len(t, cfg.AuthConfig.OIDCConfigs, 1)
	assert.Equal(t, "google", cfg.AuthConfig.OIDCConfigs[0].Name)
	assert.Equal(t, "sqlite", cfg.PersistenceConfig.Type)
	assert.Equal(t, "redis", cfg.CacheConfig.Type)
	assert.Equal(t, 25, cfg.Limits.PageSize)
	// unset keys fall back to defaults
	assert.Equal(t, defaultMaxParticipants, cfg.Limits.DefaultMaxParticipants)
}

func TestReadConfigurationMissingPath(t *testing.T) {
	_, err := ReadConfiguration(filepath.Join(t.TempDir(), "nope.toml"), GetFlagSet())
	assert.Error(t, err)
}
