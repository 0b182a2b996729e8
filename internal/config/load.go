package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads the YAML config at path, applies FLEETSYNC_* environment
// overrides and returns the parsed Config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("FLEETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend.base_url is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.timeout", "10s")

	v.SetDefault("state_storage.type", "sqlite")
	v.SetDefault("state_storage.file_path", "fleetsync.db")

	v.SetDefault("sync.cache_max_age", "5m")
	v.SetDefault("sync.item_timeout", "15s")
	v.SetDefault("sync.drain_on_start", true)

	v.SetDefault("connectivity.interval", "10s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 5m")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
