package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"groundzero-sync-service/internal/backend"
)

// EnvPrefix prefixes environment overrides, e.g. GROUNDZERO_CLOUD_DATABASE_URL.
const EnvPrefix = "GROUNDZERO"

// DefaultLANEndpoint matches the address the LAN appliances ship with.
const DefaultLANEndpoint = "http://192.168.1.100:3001"

// envOnlyKeys have no default but must still be picked up from the
// environment by Unmarshal.
var envOnlyKeys = []string{
	"cloud.database_url",
	"local_storage.host",
	"local_storage.port",
	"local_storage.user",
	"local_storage.password",
	"local_storage.database",
	"audit_store.mysql.host",
	"audit_store.mysql.port",
	"audit_store.mysql.user",
	"audit_store.mysql.password",
	"audit_store.mysql.database",
	"server.auth_token",
	"lan_server.database.host",
	"lan_server.database.port",
	"lan_server.database.user",
	"lan_server.database.password",
	"lan_server.database.database",
	"lan_server.database.replication_user",
	"lan_server.database.replication_password",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cloud.max_conns", 10)
	v.SetDefault("cloud.change_channel", "groundzero_changes")
	v.SetDefault("cloud.probe_timeout", "3s")

	v.SetDefault("lan.default_endpoint", DefaultLANEndpoint)
	v.SetDefault("lan.request_timeout", "5s")

	v.SetDefault("local_storage.type", "file")
	v.SetDefault("local_storage.file_path", "groundzero-state.json")

	v.SetDefault("audit_store.type", "cloud")

	v.SetDefault("sync.timestamp_column", backend.DefaultTimestampColumn)
	v.SetDefault("sync.audit_actor", "sync-service")
	v.SetDefault("sync.audit_writes", true)
	v.SetDefault("sync.tables", []map[string]any{
		{"name": "camps", "primary_key": "id"},
		{"name": "shipments", "primary_key": "id"},
		{"name": "inventory", "primary_key": "id"},
		{"name": "volunteer_tasks", "primary_key": "id"},
	})

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.probe_interval", "@every 15s")
	v.SetDefault("scheduler.drain_interval", "@every 1m")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("lan_server.host", "0.0.0.0")
	v.SetDefault("lan_server.port", 3001)
	v.SetDefault("lan_server.server_id", 1001)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig loads and validates the sync service configuration.
func LoadConfig(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLANServerConfig loads and validates the LAN server configuration.
func LoadLANServerConfig(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateLANServer(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML file at path (optional when empty) and applies defaults
// and GROUNDZERO_* environment overrides without validating.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the sync service cannot start without.
func (c *Config) Validate() error {
	if c.Cloud.DatabaseURL == "" {
		return &backend.ConfigurationError{Field: "cloud.database_url", Reason: "required"}
	}
	if err := ValidateEndpoint(c.LAN.DefaultEndpoint); err != nil {
		return err
	}

	switch c.LocalStorage.Type {
	case "file", "sqlite":
		if c.LocalStorage.FilePath == "" {
			return &backend.ConfigurationError{Field: "local_storage.file_path", Reason: "required for " + c.LocalStorage.Type}
		}
	case "mysql":
		if c.LocalStorage.Host == "" || c.LocalStorage.Database == "" {
			return &backend.ConfigurationError{Field: "local_storage", Reason: "mysql needs host and database"}
		}
	default:
		return &backend.ConfigurationError{Field: "local_storage.type", Reason: fmt.Sprintf("unknown type %q", c.LocalStorage.Type)}
	}

	switch c.AuditStore.Type {
	case "cloud", "mysql":
	default:
		return &backend.ConfigurationError{Field: "audit_store.type", Reason: fmt.Sprintf("unknown type %q", c.AuditStore.Type)}
	}

	for _, t := range c.Sync.Tables {
		if err := backend.CheckTable(t.Name); err != nil {
			return err
		}
	}
	if !backend.ValidIdentifier(c.Sync.TimestampColumn) {
		return &backend.ConfigurationError{Field: "sync.timestamp_column", Reason: "invalid column name"}
	}
	return nil
}

// ValidateLANServer checks the settings the LAN server binary needs.
func (c *Config) ValidateLANServer() error {
	db := c.LANServer.Database
	if db.Host == "" || db.Database == "" {
		return &backend.ConfigurationError{Field: "lan_server.database", Reason: "host and database are required"}
	}
	if c.LANServer.Binlog && db.ReplicationUser == "" {
		return &backend.ConfigurationError{Field: "lan_server.database.replication_user", Reason: "required when binlog is enabled"}
	}
	for _, t := range c.LANServer.Tables {
		if err := backend.CheckTable(t); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEndpoint accepts absolute http(s) URLs with a host.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &backend.ConfigurationError{Field: "lan endpoint", Reason: fmt.Sprintf("%q is not an http(s) URL", raw)}
	}
	return nil
}
