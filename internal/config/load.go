package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. HHSYNC_REMOTE_CALENDAR_ID.
const EnvPrefix = "HHSYNC"

// LoadConfig reads the YAML file at path (optional when empty or missing),
// applies environment overrides and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_storage.type", StorageSQLite)
	v.SetDefault("state_storage.file_path", "homehealth.db")
	v.SetDefault("state_storage.port", 3306)

	v.SetDefault("remote.patient_sheet", "Patients")
	v.SetDefault("remote.patient_range", "Patients!A1:Z")
	v.SetDefault("remote.calendar_id", "primary")
	v.SetDefault("remote.sheets_base_url", "https://sheets.googleapis.com/v4")
	v.SetDefault("remote.calendar_base_url", "https://www.googleapis.com/calendar/v3")
	v.SetDefault("remote.request_timeout", "15s")
	v.SetDefault("remote.timezone", "UTC")

	v.SetDefault("auth.token_url", "https://oauth2.googleapis.com/token")

	v.SetDefault("sync.batch_size", 5)
	v.SetDefault("sync.drain_delay", "2s")
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.pull_cooldown", "60s")
	v.SetDefault("sync.backfill_cooldown", "5m")
	v.SetDefault("sync.lookback_days", 30)
	v.SetDefault("sync.lookahead_days", 365)
	v.SetDefault("sync.purge_synced_after", "24h")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 5m")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
