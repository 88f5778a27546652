package config

import (
	"fmt"
	"time"
)

type Config struct {
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Remote       RemoteConfig    `mapstructure:"remote"`
	Auth         AuthConfig      `mapstructure:"auth"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

// Storage backends for the local durable store.
const (
	StorageSQLite = "sqlite"
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

type StateStorage struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	FilePath string `mapstructure:"file_path"` // For SQLite
}

type RemoteConfig struct {
	SpreadsheetID   string        `mapstructure:"spreadsheet_id"`
	PatientSheet    string        `mapstructure:"patient_sheet"`
	PatientRange    string        `mapstructure:"patient_range"`
	CalendarID      string        `mapstructure:"calendar_id"`
	SheetsBaseURL   string        `mapstructure:"sheets_base_url"`
	CalendarBaseURL string        `mapstructure:"calendar_base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Timezone        string        `mapstructure:"timezone"`
}

// Location resolves Timezone, defaulting to UTC.
func (r RemoteConfig) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}

type AuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
	TokenFile    string `mapstructure:"token_file"`
	StaticToken  string `mapstructure:"static_token"`
}

type SyncConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	DrainDelay       time.Duration `mapstructure:"drain_delay"`
	MaxRetries       int           `mapstructure:"max_retries"`
	PullCooldown     time.Duration `mapstructure:"pull_cooldown"`
	BackfillCooldown time.Duration `mapstructure:"backfill_cooldown"`
	LookbackDays     int           `mapstructure:"lookback_days"`
	LookaheadDays    int           `mapstructure:"lookahead_days"`
	PurgeSyncedAfter time.Duration `mapstructure:"purge_synced_after"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
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

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.StateStorage.Type {
	case StorageSQLite:
		if c.StateStorage.FilePath == "" {
			return fmt.Errorf("state_storage.file_path is required for sqlite")
		}
	case StorageMySQL, StorageMemory:
	default:
		return fmt.Errorf("unknown state_storage.type %q", c.StateStorage.Type)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.LookbackDays < 0 || c.Sync.LookaheadDays < 0 {
		return fmt.Errorf("sync lookback/lookahead days must not be negative")
	}
	if _, err := c.Remote.Location(); err != nil {
		return fmt.Errorf("invalid remote.timezone %q: %w", c.Remote.Timezone, err)
	}
	return nil
}
