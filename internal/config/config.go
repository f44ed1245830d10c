package config

import (
	"time"
)

const (
	DefaultPollInterval   = 2500 * time.Millisecond
	DefaultIndicatorDelay = 1500 * time.Millisecond
	DefaultProbeInterval  = 5 * time.Second
	DefaultProbeTimeout   = 3 * time.Second
	DefaultWardColumn     = "ward_id"
	DefaultQueueKey       = "offline_mutation_queue"
	DefaultMaxQueueSize   = 100
	DefaultMaxRetries     = 3
	DefaultFeedBuffer     = 1024
)

type Config struct {
	Database     DatabaseConnection `mapstructure:"database"`
	Ward         WardConfig         `mapstructure:"ward"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
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

type WardConfig struct {
	ID string `mapstructure:"id"`
}

type SyncConfig struct {
	Tables       []TableConfig `mapstructure:"tables"`
	PollInterval string        `mapstructure:"poll_interval"`
	WardColumn   string        `mapstructure:"ward_column"`
	FeedServerID uint32        `mapstructure:"feed_server_id"`
	FeedBuffer   int           `mapstructure:"feed_buffer"`
}

type TableConfig struct {
	Name            string   `mapstructure:"name"`
	PrimaryKey      string   `mapstructure:"primary_key"`
	TimestampColumn string   `mapstructure:"timestamp_column"`
	QueryKeys       []string `mapstructure:"query_keys"`
}

// GetPrimaryKey returns the configured primary key column, defaulting to "id".
func (t TableConfig) GetPrimaryKey() string {
	if t.PrimaryKey == "" {
		return "id"
	}
	return t.PrimaryKey
}

type ConnectivityConfig struct {
	IndicatorDelay string `mapstructure:"indicator_delay"`
	ProbeEnabled   bool   `mapstructure:"probe_enabled"`
	ProbeInterval  string `mapstructure:"probe_interval"`
	ProbeTimeout   string `mapstructure:"probe_timeout"`
}

func (c ConnectivityConfig) GetIndicatorDelay() time.Duration {
	return parseDuration(c.IndicatorDelay, DefaultIndicatorDelay)
}

func (c ConnectivityConfig) GetProbeInterval() time.Duration {
	return parseDuration(c.ProbeInterval, DefaultProbeInterval)
}

func (c ConnectivityConfig) GetProbeTimeout() time.Duration {
	return parseDuration(c.ProbeTimeout, DefaultProbeTimeout)
}

type QueueConfig struct {
	MaxSize     int    `mapstructure:"max_size"`
	MaxRetries  int    `mapstructure:"max_retries"`
	StoragePath string `mapstructure:"storage_path"`
	StorageKey  string `mapstructure:"storage_key"`
}

func (q QueueConfig) GetMaxSize() int {
	if q.MaxSize <= 0 {
		return DefaultMaxQueueSize
	}
	return q.MaxSize
}

func (q QueueConfig) GetMaxRetries() int {
	if q.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return q.MaxRetries
}

func (q QueueConfig) GetStorageKey() string {
	if q.StorageKey == "" {
		return DefaultQueueKey
	}
	return q.StorageKey
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
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func (s SyncConfig) GetPollInterval() time.Duration {
	return parseDuration(s.PollInterval, DefaultPollInterval)
}

func (s SyncConfig) GetWardColumn() string {
	if s.WardColumn == "" {
		return DefaultWardColumn
	}
	return s.WardColumn
}

func (s SyncConfig) GetFeedBuffer() int {
	if s.FeedBuffer <= 0 {
		return DefaultFeedBuffer
	}
	return s.FeedBuffer
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
