package platform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/fieldwork/pkg/auth"
	"github.com/txn2/fieldwork/pkg/session"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
server:
  address: ":9090"
storage:
  mode: postgres
  dsn: postgres://localhost/fieldwork?sslmode=disable
session:
  timeout: 30m
  warn_threshold: 5m
  sweep_interval: 45s
  tick_interval: 2s
journal:
  enabled: true
  retention_days: 90
auth:
  jwt_secret: topsecret
  jwt_issuer: fieldwork
  api_keys:
    - hash: "$2a$10$abcdefghijklmnopqrstuv"
      principal_id: enum-1
      role: enumerator
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, StorageModePostgres, cfg.Storage.Mode)
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Session.WarnThreshold)
	assert.Equal(t, 45*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, 2*time.Second, cfg.Session.TickInterval)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, 90, cfg.Journal.RetentionDays)
	assert.Equal(t, "topsecret", cfg.Auth.JWTSecret)
	assert.Equal(t, "fieldwork", cfg.Auth.JWTIssuer)
	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, auth.APIKey{
		Hash:        "$2a$10$abcdefghijklmnopqrstuv",
		PrincipalID: "enum-1",
		Role:        auth.RoleEnumerator,
	}, cfg.Auth.APIKeys[0])
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFile(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, StorageModeMemory, cfg.Storage.Mode)
	assert.Equal(t, session.DefaultTimeout, cfg.Session.Timeout)
	assert.Equal(t, session.DefaultWarnThreshold, cfg.Session.WarnThreshold)
	assert.Equal(t, session.DefaultPollInterval, cfg.Session.SweepInterval)
	assert.Equal(t, session.DefaultTickInterval, cfg.Session.TickInterval)
	assert.Equal(t, 180, cfg.Journal.RetentionDays)
	assert.False(t, cfg.Journal.Enabled)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("FIELDWORK_TEST_DSN", "postgres://db.internal/fieldwork")
	t.Setenv("FIELDWORK_TEST_SECRET", "from-env")

	path := writeConfigFile(t, `
storage:
  mode: postgres
  dsn: ${FIELDWORK_TEST_DSN}
auth:
  jwt_secret: ${FIELDWORK_TEST_SECRET}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal/fieldwork", cfg.Storage.DSN)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoadConfig_UnsetEnvExpandsEmpty(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  mode: postgres
  dsn: ${FIELDWORK_TEST_UNSET_VAR}
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a dsn")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfigFile(t, "server: [not a map"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadConfig_UnknownStorageMode(t *testing.T) {
	_, err := LoadConfig(writeConfigFile(t, `
storage:
  mode: cassandra
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage mode")
}

func TestLoadConfig_WarnThresholdMustBeBelowTimeout(t *testing.T) {
	_, err := LoadConfig(writeConfigFile(t, `
session:
  timeout: 5m
  warn_threshold: 5m
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warn_threshold")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, StorageModeMemory, cfg.Storage.Mode)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, session.DefaultTimeout, cfg.Session.Timeout)
}
