package config

import (
	"sync"
	"time"
)

type Config struct {
	Telegram    TelegramConfig    `yaml:"telegram" mapstructure:"telegram"`
	Limits      LimitsConfig      `yaml:"limits" mapstructure:"limits"`
	Downloads   DownloadsConfig   `yaml:"downloads" mapstructure:"downloads"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`
	Status      StatusConfig      `yaml:"status" mapstructure:"status"`
}

type TelegramConfig struct {
	Token    string  `yaml:"token" mapstructure:"token"`
	AdminIDs []int64 `yaml:"admin_ids" mapstructure:"admin_ids"`
}

type LimitsConfig struct {
	// Maximum declared source size accepted, in MB.
	MaxSourceSizeMB int64 `yaml:"max_source_size_mb" mapstructure:"max_source_size_mb"`
	// Hard byte limit of the delivery channel, in MB.
	TransportCeilingMB int64 `yaml:"transport_ceiling_mb" mapstructure:"transport_ceiling_mb"`
}

type DownloadsConfig struct {
	DefaultResolution int           `yaml:"default_resolution" mapstructure:"default_resolution"`
	SelectionTimeout  time.Duration `yaml:"selection_timeout" mapstructure:"selection_timeout"`
}

type PathsConfig struct {
	DownloadPath   string `yaml:"download_path" mapstructure:"download_path"`
	CookieFile     string `yaml:"cookie_file" mapstructure:"cookie_file"`
	DownloaderPath string `yaml:"downloader_path" mapstructure:"downloader_path"`
	FFmpegPath     string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
}

type CredentialsConfig struct {
	RefreshURL string `yaml:"refresh_url" mapstructure:"refresh_url"`
}

type StatusConfig struct {
	// Listen address for the status endpoint. Empty disables it.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

var (
	instance     *Config
	instanceOnce sync.Once

	// default resolution is the only runtime-mutable setting
	resolutionMu sync.RWMutex
)

func Instance() *Config {
	instanceOnce.Do(func() {
		instance = &Config{}
		instance.Downloads.SelectionTimeout = time.Minute * 10
	})
	return instance
}

// MaxSourceSize returns the declared-size limit in bytes.
func (c *Config) MaxSourceSize() int64 {
	return c.Limits.MaxSourceSizeMB * 1024 * 1024
}

// TransportCeiling returns the delivery channel limit in bytes.
func (c *Config) TransportCeiling() int64 {
	return c.Limits.TransportCeilingMB * 1024 * 1024
}

func (c *Config) DefaultResolution() int {
	resolutionMu.RLock()
	defer resolutionMu.RUnlock()
	return c.Downloads.DefaultResolution
}

func (c *Config) SetDefaultResolution(res int) {
	resolutionMu.Lock()
	c.Downloads.DefaultResolution = res
	resolutionMu.Unlock()
}

func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
