package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sync modes select which rows the relay streams.
const (
	// SyncModeLocalWrites streams only changes made on this site.
	SyncModeLocalWrites = "local_writes"

	// SyncModeAllWrites streams every change, including ones received from peers.
	SyncModeAllWrites = "all_writes"
)

// Config is the root configuration structure for the harness.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Extension ExtensionConfig `yaml:"extension"`
	Sync      SyncConfig      `yaml:"sync"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig contains SQLite session settings.
type DatabaseConfig struct {
	// Path is a filesystem path, or a file: URI when URI is true.
	Path        string `yaml:"path"`
	URI         bool   `yaml:"uri"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ExtensionConfig identifies the cr-sqlite artifact.
type ExtensionConfig struct {
	Path         string `yaml:"path"`
	EntryPoint   string `yaml:"entry_point"`
	MinDBVersion int64  `yaml:"min_db_version"`
}

// SyncConfig contains changeset relay settings.
type SyncConfig struct {
	Enabled bool `yaml:"enabled"`

	// DBID names the replicated database; every peer sharing it exchanges changes.
	DBID string `yaml:"db_id"`

	// Mode is SyncModeLocalWrites or SyncModeAllWrites.
	Mode string `yaml:"mode"`

	// PollInterval is how often to look for new changes (seconds).
	PollInterval int `yaml:"poll_interval"`

	// BatchSize caps the changes pulled per query. 0 selects the relay default.
	BatchSize int `yaml:"batch_size"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CRSQL_SECTION_KEY
// For example: CRSQL_DATABASE_PATH, CRSQL_EXTENSION_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// The extension path matches the layout of the correctness harness, which
// runs two directories below the repository root.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/harness.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Extension: ExtensionConfig{
			Path:         "../../core/dist/crsqlite",
			EntryPoint:   "sqlite3_crsqlite_init",
			MinDBVersion: 0,
		},
		Sync: SyncConfig{
			Enabled:      false,
			Mode:         SyncModeLocalWrites,
			PollInterval: 1,
			BatchSize:    500,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "crsql-harness",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "crsql",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CRSQL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("CRSQL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Extension
	if v := os.Getenv("CRSQL_EXTENSION_PATH"); v != "" {
		cfg.Extension.Path = v
	}

	// Sync
	if v := os.Getenv("CRSQL_SYNC_DB_ID"); v != "" {
		cfg.Sync.DBID = v
	}

	// MQTT
	if v := os.Getenv("CRSQL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CRSQL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CRSQL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("CRSQL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout must not be negative")
	}

	// Extension validation
	if c.Extension.Path == "" {
		errs = append(errs, "extension.path is required (set CRSQL_EXTENSION_PATH environment variable)")
	}
	if c.Extension.EntryPoint == "" {
		errs = append(errs, "extension.entry_point is required")
	}
	if c.Extension.MinDBVersion < 0 {
		errs = append(errs, "extension.min_db_version must not be negative")
	}

	// Sync validation
	switch c.Sync.Mode {
	case SyncModeLocalWrites, SyncModeAllWrites:
	default:
		errs = append(errs, fmt.Sprintf("sync.mode must be %q or %q", SyncModeLocalWrites, SyncModeAllWrites))
	}
	if c.Sync.Enabled && c.Sync.DBID == "" {
		errs = append(errs, "sync.db_id is required when sync is enabled")
	}
	if c.Sync.PollInterval <= 0 {
		errs = append(errs, "sync.poll_interval must be positive")
	}
	if c.Sync.BatchSize < 0 {
		errs = append(errs, "sync.batch_size must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the relay poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Sync.PollInterval) * time.Second
}
