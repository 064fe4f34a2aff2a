package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources  Sources  `yaml:"sources"`
	Analyzer Analyzer `yaml:"analyzer"`
	Ingest   Ingest   `yaml:"ingest"`
	Refresh  Refresh  `yaml:"refresh"`
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Digest   Digest   `yaml:"digest"`
	Logging  Logging  `yaml:"logging"`
}

type Sources struct {
	YouTube  YouTube  `yaml:"youtube"`
	Telegram Telegram `yaml:"telegram"`
}

type YouTube struct {
	APIKeyEnv   string `yaml:"api_key_env"`
	APIBaseURL  string `yaml:"api_base_url"`
	FeedBaseURL string `yaml:"feed_base_url"`
	// UseFeed lists channel uploads from the public Atom feed instead of the
	// Data API playlist endpoint.
	UseFeed bool `yaml:"use_feed"`
}

type Telegram struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

type Analyzer struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	BaseURL       string  `yaml:"base_url"`
	APIKeyEnv     string  `yaml:"api_key_env"`
	MaxTokens     int     `yaml:"max_tokens"`
	MaxInputChars int     `yaml:"max_input_chars"`
	Temperature   float64 `yaml:"temperature"`
	// Language is the language summaries and descriptions are written in.
	Language string `yaml:"language"`
	Retry    Retry  `yaml:"retry"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type Ingest struct {
	RecentDays    int `yaml:"recent_days"`
	HardLimit     int `yaml:"hard_limit"`
	SoftLimit     int `yaml:"soft_limit"`
	ChannelBatch  int `yaml:"channel_batch"`
	MinTitleRunes int `yaml:"min_title_runes"`
}

type Refresh struct {
	RepairLimit    int           `yaml:"repair_limit"`
	ChannelsPerRun int           `yaml:"channels_per_run"`
	Budget         time.Duration `yaml:"budget"`
	Interval       time.Duration `yaml:"interval"`
}

type Storage struct {
	Driver  string `yaml:"driver"`
	DSNEnv  string `yaml:"dsn_env"`
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Digest struct {
	Window   time.Duration  `yaml:"window"`
	Output   string         `yaml:"output"`
	Telegram DigestTelegram `yaml:"telegram"`
}

type DigestTelegram struct {
	TokenEnv string `yaml:"token_env"`
	ChatID   int64  `yaml:"chat_id"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for toolscout.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "toolscout")
}

// DataDir returns the XDG data directory for toolscout.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "toolscout")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/toolscout/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'toolscout init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	return &Config{
		Sources: Sources{
			YouTube: YouTube{
				APIKeyEnv:   "YOUTUBE_API_KEY",
				APIBaseURL:  "https://www.googleapis.com/youtube/v3",
				FeedBaseURL: "https://www.youtube.com/feeds/videos.xml",
			},
			Telegram: Telegram{
				BaseURL:   "https://t.me",
				UserAgent: "Mozilla/5.0 (compatible; toolscout/1.0)",
			},
		},
		Analyzer: Analyzer{
			Provider:      "perplexity",
			Model:         "sonar",
			BaseURL:       "https://api.perplexity.ai",
			APIKeyEnv:     "PERPLEXITY_API_KEY",
			MaxTokens:     4000,
			MaxInputChars: 6000,
			Temperature:   0.1,
			Language:      "English",
			Retry: Retry{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
			},
		},
		Ingest: Ingest{
			RecentDays:    60,
			HardLimit:     10,
			SoftLimit:     5,
			ChannelBatch:  3,
			MinTitleRunes: 4,
		},
		Refresh: Refresh{
			RepairLimit:    15,
			ChannelsPerRun: 3,
			Budget:         55 * time.Second,
			Interval:       time.Hour,
		},
		Storage: Storage{
			Driver: "sqlite",
			DSNEnv: "TOOLSCOUT_PG_DSN",
		},
		Server: Server{Addr: "127.0.0.1:8000"},
		Digest: Digest{
			Window: 24 * time.Hour,
			Telegram: DigestTelegram{
				TokenEnv: "TELEGRAM_BOT_TOKEN",
			},
		},
		Logging: Logging{Level: "info"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	in := c.Ingest
	switch {
	case in.RecentDays <= 0:
		return fmt.Errorf("ingest.recent_days must be positive, got %d", in.RecentDays)
	case in.SoftLimit <= 0:
		return fmt.Errorf("ingest.soft_limit must be positive, got %d", in.SoftLimit)
	case in.SoftLimit >= in.HardLimit:
		return fmt.Errorf("ingest.soft_limit (%d) must be below ingest.hard_limit (%d)", in.SoftLimit, in.HardLimit)
	case in.ChannelBatch <= 0:
		return fmt.Errorf("ingest.channel_batch must be positive, got %d", in.ChannelBatch)
	}

	if c.Refresh.RepairLimit < 0 || c.Refresh.ChannelsPerRun < 0 {
		return fmt.Errorf("refresh limits must not be negative")
	}
	if c.Refresh.Budget <= 0 {
		return fmt.Errorf("refresh.budget must be positive, got %s", c.Refresh.Budget)
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive, got %s", c.Refresh.Interval)
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage.driver %q (want sqlite or postgres)", c.Storage.Driver)
	}

	switch strings.ToLower(c.Analyzer.Provider) {
	case "openai", "perplexity", "ollama", "gemini":
	default:
		return fmt.Errorf("unknown analyzer.provider %q", c.Analyzer.Provider)
	}
	if c.Analyzer.MaxInputChars <= 0 {
		return fmt.Errorf("analyzer.max_input_chars must be positive, got %d", c.Analyzer.MaxInputChars)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return DataDir()
}

// DigestOutput returns the path the HTML digest is written to.
func (c *Config) DigestOutput() string {
	if c.Digest.Output != "" {
		return c.Digest.Output
	}
	return filepath.Join(c.GetDataDir(), "digest.html")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
