package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundzero-sync-service/internal/backend"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
cloud:
  database_url: postgres://relief@cloud/groundzero
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultLANEndpoint, cfg.LAN.DefaultEndpoint)
	assert.Equal(t, "file", cfg.LocalStorage.Type)
	assert.Equal(t, "cloud", cfg.AuditStore.Type)
	assert.Equal(t, "updated_at", cfg.Sync.TimestampColumn)
	assert.Equal(t, []string{"camps", "shipments", "inventory", "volunteer_tasks"}, cfg.Sync.TableNames())
	assert.Equal(t, "@every 15s", cfg.Scheduler.ProbeInterval)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "5s", cfg.LAN.RequestTimeout)
	assert.Equal(t, int64(5e9), int64(cfg.LAN.GetRequestTimeout()))
}

func TestLoadConfigFileValues(t *testing.T) {
	path := writeConfig(t, `
cloud:
  database_url: postgres://relief@cloud/groundzero
  change_channel: relief_changes
lan:
  default_endpoint: http://10.0.0.5:3001
  request_timeout: 2s
local_storage:
  type: sqlite
  file_path: /var/lib/groundzero/state.db
sync:
  tables:
    - name: camps
      primary_key: id
logging:
  level: debug
  format: console
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "relief_changes", cfg.Cloud.ChangeChannel)
	assert.Equal(t, "http://10.0.0.5:3001", cfg.LAN.DefaultEndpoint)
	assert.Equal(t, "sqlite", cfg.LocalStorage.Type)
	assert.Equal(t, []string{"camps"}, cfg.Sync.TableNames())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GROUNDZERO_CLOUD_DATABASE_URL", "postgres://env@cloud/groundzero")
	t.Setenv("GROUNDZERO_SERVER_AUTH_TOKEN", "s3cret")
	t.Setenv("GROUNDZERO_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env@cloud/groundzero", cfg.Cloud.DatabaseURL)
	assert.Equal(t, "s3cret", cfg.Server.AuthToken)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing cloud url",
			body: "lan:\n  default_endpoint: http://10.0.0.5:3001\n",
		},
		{
			name: "bad lan endpoint",
			body: "cloud:\n  database_url: postgres://x\nlan:\n  default_endpoint: ftp://lan\n",
		},
		{
			name: "unknown storage",
			body: "cloud:\n  database_url: postgres://x\nlocal_storage:\n  type: redis\n",
		},
		{
			name: "mysql storage without host",
			body: "cloud:\n  database_url: postgres://x\nlocal_storage:\n  type: mysql\n",
		},
		{
			name: "bad table name",
			body: "cloud:\n  database_url: postgres://x\nsync:\n  tables:\n    - name: Camps;\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, backend.IsConfiguration(err), "want ConfigurationError, got %v", err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateEndpoint(t *testing.T) {
	assert.NoError(t, ValidateEndpoint("http://192.168.1.100:3001"))
	assert.NoError(t, ValidateEndpoint("https://lan.local"))
	assert.Error(t, ValidateEndpoint("192.168.1.100:3001"))
	assert.Error(t, ValidateEndpoint("ws://lan.local"))
	assert.Error(t, ValidateEndpoint(""))
}

func TestLoadLANServerConfig(t *testing.T) {
	path := writeConfig(t, `
lan_server:
  port: 3001
  tables: [camps, shipments]
  binlog: true
  database:
    host: 127.0.0.1
    port: 3306
    user: relief
    database: groundzero
`)
	_, err := LoadLANServerConfig(path)
	require.Error(t, err, "binlog without replication user")

	t.Setenv("GROUNDZERO_LAN_SERVER_DATABASE_REPLICATION_USER", "repl")
	cfg, err := LoadLANServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"camps", "shipments"}, cfg.LANServer.Tables)
	assert.Equal(t, "repl", cfg.LANServer.Database.ReplicationUser)
	assert.Equal(t, uint32(1001), cfg.LANServer.ServerID)
}
