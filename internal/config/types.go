package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "tokstat/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Monitor  MonitorConfig  `json:"monitor"`
	TikTok   TikTokConfig   `json:"tiktok"`
	Web      WebConfig      `json:"web,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string for the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the sqlite tracking store.
//
// Example:
//
//	"storage": { "path": "./tokstat.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// MonitorConfig controls the background sweep loop.
//
// All durations are Go duration strings (e.g. "10m", "90m").
//
// Defaults (when fields are omitted/zero):
//   - sweep_interval: "90m"
//   - milestone_threshold: 50000
type MonitorConfig struct {
	SweepInterval      string `json:"sweep_interval,omitempty"`
	MilestoneThreshold int64  `json:"milestone_threshold,omitempty"`
}

// TikTokConfig controls upstream fetching.
//
// RatePerMin caps outbound requests to the upstream across the sweep and
// interactive paths combined. The upstream is rate-sensitive; keep this low.
type TikTokConfig struct {
	FetchTimeout string          `json:"fetch_timeout,omitempty"` // default "30s"
	RatePerMin   int             `json:"rate_per_min,omitempty"`  // default 20
	RapidAPI     *RapidAPIConfig `json:"rapidapi,omitempty"`
}

// RapidAPIConfig configures the optional third-party proxy API.
// When Key is empty the client falls back to fetching the public video page.
type RapidAPIConfig struct {
	Key  string `json:"key,omitempty"`
	Host string `json:"host,omitempty"` // default "tiktok-scraper2.p.rapidapi.com"
}

// WebConfig controls the health/metrics HTTP listener.
//
// Security note: prefer binding to localhost unless a reverse proxy fronts it.
type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"
}

const (
	DefaultSweepInterval      = 90 * time.Minute
	DefaultMilestoneThreshold = int64(50000)
	DefaultFetchTimeout       = 30 * time.Second
	DefaultRatePerMin         = 20
	DefaultRapidAPIHost       = "tiktok-scraper2.p.rapidapi.com"
	DefaultWebAddr            = "127.0.0.1:8080"
)

// Validate checks restart-relevant invariants. Reload-time validation goes
// through the same function so a bad edit never reaches subscribers.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}

	iv, err := c.SweepInterval()
	if err != nil {
		return err
	}
	if iv < time.Minute || iv > 24*time.Hour {
		return fmt.Errorf("monitor.sweep_interval: %s out of range [1m, 24h]", iv)
	}

	if c.Monitor.MilestoneThreshold < 0 {
		return errors.New("monitor.milestone_threshold must not be negative")
	}

	ft, err := c.FetchTimeout()
	if err != nil {
		return err
	}
	if ft <= 0 || ft > 2*time.Minute {
		return fmt.Errorf("tiktok.fetch_timeout: %s out of range (0, 2m]", ft)
	}

	if c.TikTok.RatePerMin < 0 {
		return errors.New("tiktok.rate_per_min must be >= 0")
	}
	return nil
}

func (c *Config) SweepInterval() (time.Duration, error) {
	return ParseDurationOrDefault("monitor.sweep_interval", c.Monitor.SweepInterval, DefaultSweepInterval)
}

func (c *Config) MilestoneThreshold() int64 {
	if c.Monitor.MilestoneThreshold > 0 {
		return c.Monitor.MilestoneThreshold
	}
	return DefaultMilestoneThreshold
}

func (c *Config) FetchTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("tiktok.fetch_timeout", c.TikTok.FetchTimeout, DefaultFetchTimeout)
}

func (c *Config) RatePerMin() int {
	if c.TikTok.RatePerMin > 0 {
		return c.TikTok.RatePerMin
	}
	return DefaultRatePerMin
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) BusyTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
}

func (c *Config) RapidAPIHost() string {
	if c.TikTok.RapidAPI != nil && strings.TrimSpace(c.TikTok.RapidAPI.Host) != "" {
		return strings.TrimSpace(c.TikTok.RapidAPI.Host)
	}
	return DefaultRapidAPIHost
}

func (c *Config) RapidAPIKey() string {
	if c.TikTok.RapidAPI == nil {
		return ""
	}
	return strings.TrimSpace(c.TikTok.RapidAPI.Key)
}

func (c *Config) WebAddr() string {
	if strings.TrimSpace(c.Web.Addr) != "" {
		return strings.TrimSpace(c.Web.Addr)
	}
	return DefaultWebAddr
}

// LogxConfig maps the logging section onto pkg/logx.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}
