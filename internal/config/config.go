package config

import (
	"time"
)

type Config struct {
	Cloud        CloudConfig     `mapstructure:"cloud"`
	LAN          LANConfig       `mapstructure:"lan"`
	LocalStorage StateStorage    `mapstructure:"local_storage"`
	AuditStore   AuditStore      `mapstructure:"audit_store"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Server       ServerConfig    `mapstructure:"server"`
	LANServer    LANServerConfig `mapstructure:"lan_server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

type CloudConfig struct {
	DatabaseURL       string `mapstructure:"database_url"`
	MaxConns          int32  `mapstructure:"max_conns"`
	ChangeChannel     string `mapstructure:"change_channel"`
	InstallChangeFeed bool   `mapstructure:"install_change_feed"`
	ProbeTimeout      string `mapstructure:"probe_timeout"`
}

func (c CloudConfig) GetProbeTimeout() time.Duration {
	return parseDuration(c.ProbeTimeout, 3*time.Second)
}

type LANConfig struct {
	// DefaultEndpoint is used until an operator persists another endpoint.
	DefaultEndpoint string `mapstructure:"default_endpoint"`
	RequestTimeout  string `mapstructure:"request_timeout"`
}

func (l LANConfig) GetRequestTimeout() time.Duration {
	return parseDuration(l.RequestTimeout, 5*time.Second)
}

type DatabaseConnection struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	User                string `mapstructure:"user"`
	Password            string `mapstructure:"password"`
	Database            string `mapstructure:"database"`
	ReplicationUser     string `mapstructure:"replication_user"`
	ReplicationPassword string `mapstructure:"replication_password"`
}

// StateStorage selects the durable key-value store holding the pending queue
// and the connection settings.
type StateStorage struct {
	Type     string `mapstructure:"type"` // file, sqlite or mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	FilePath string `mapstructure:"file_path"` // For file and SQLite
}

// AuditStore selects where conflict events and sync history are written.
type AuditStore struct {
	Type  string             `mapstructure:"type"` // cloud or mysql
	MySQL DatabaseConnection `mapstructure:"mysql"`
}

type SyncConfig struct {
	Tables          []TableConfig `mapstructure:"tables"`
	TimestampColumn string        `mapstructure:"timestamp_column"`
	AuditActor      string        `mapstructure:"audit_actor"`
	AuditWrites     bool          `mapstructure:"audit_writes"`
}

type TableConfig struct {
	Name       string `mapstructure:"name"`
	PrimaryKey string `mapstructure:"primary_key"`
}

// TableNames lists the configured syncable tables.
func (s SyncConfig) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ProbeInterval string `mapstructure:"probe_interval"`
	DrainInterval string `mapstructure:"drain_interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(s.ReadTimeout, 0)
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	return parseDuration(s.WriteTimeout, 0)
}

// LANServerConfig configures the reference LAN fallback server binary.
type LANServerConfig struct {
	Host     string             `mapstructure:"host"`
	Port     int                `mapstructure:"port"`
	Database DatabaseConnection `mapstructure:"database"`
	Tables   []string           `mapstructure:"tables"`
	Binlog   bool               `mapstructure:"binlog"`
	ServerID uint32             `mapstructure:"server_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
