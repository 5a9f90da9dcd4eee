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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  jwt_secret: s3cret
mongo:
  uri: mongodb://localhost:27017
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "mediprior", cfg.Mongo.Database)
	assert.Equal(t, 25*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.WriteDeadline)
	assert.Equal(t, int64(64*1024), cfg.WS.MaxMessageSizeBytes)
	assert.Equal(t, 3, cfg.WS.TurnLimit)
	assert.Equal(t, 5, cfg.WS.RatePerSecond)
}

func TestLoadReadsValues(t *testing.T) {
	path := writeConfig(t, `
app:
  env: production
  port: 9000
  jwt_secret: s3cret
ws:
  ping_interval_seconds: 5
  turn_limit: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 1, cfg.WS.TurnLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
