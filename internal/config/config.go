package config

import (
	"time"
)

type Config struct {
	Backend      BackendConfig      `mapstructure:"backend"`
	StateStorage StateStorage       `mapstructure:"state_storage"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type BackendConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AuthToken string `mapstructure:"auth_token"`
	Timeout   string `mapstructure:"timeout"`
}

func (b BackendConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(b.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

type StateStorage struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	FilePath string `mapstructure:"file_path"` // For SQLite
}

type SyncConfig struct {
	CacheMaxAge  string `mapstructure:"cache_max_age"`
	ItemTimeout  string `mapstructure:"item_timeout"`
	DrainOnStart bool   `mapstructure:"drain_on_start"`
}

func (s SyncConfig) GetCacheMaxAge() time.Duration {
	d, err := time.ParseDuration(s.CacheMaxAge)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

func (s SyncConfig) GetItemTimeout() time.Duration {
	d, err := time.ParseDuration(s.ItemTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

type ConnectivityConfig struct {
	ProbeURL string `mapstructure:"probe_url"`
	Interval string `mapstructure:"interval"`
}

func (c ConnectivityConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
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
