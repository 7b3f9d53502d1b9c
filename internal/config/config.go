package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tomasv/fedipost/internal/schedule"
)

// Config is the full daemon configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Post     PostConfig     `mapstructure:"post"`
	History  HistoryConfig  `mapstructure:"history"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig points at the Mastodon-compatible server.
type ServerConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// CatalogConfig describes where the image catalog comes from.
type CatalogConfig struct {
	// Source is a local path (optionally "file:"-prefixed) or a URL.
	Source string `mapstructure:"source"`

	// RefreshInterval between periodic catalog reloads.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// PoolConfig describes pool snapshot persistence.
type PoolConfig struct {
	StatePath string `mapstructure:"state_path"`
}

// ScheduleConfig holds posting times and retry behaviour.
type ScheduleConfig struct {
	// Times are daily posting times as "HH:MM" strings.
	Times []string `mapstructure:"times"`

	// RetryInterval between attempts after a retryable publish failure.
	RetryInterval time.Duration `mapstructure:"retry_interval"`

	// WakeInterval of the driver loop.
	WakeInterval time.Duration `mapstructure:"wake_interval"`
}

// PostConfig tunes the content of created statuses.
type PostConfig struct {
	// Tags appended to the status text, e.g. "#foxes #photography".
	Tags string `mapstructure:"tags"`

	// LocalRoot sandboxes "file:" image locations. Required only when
	// the catalog references local images.
	LocalRoot string `mapstructure:"local_root"`

	// Visibility is the static status visibility; empty leaves the
	// server default in place.
	Visibility string `mapstructure:"visibility"`

	// VisibilityRotation overrides Visibility with a per-post rotation
	// advanced on every committed publish.
	VisibilityRotation []string `mapstructure:"visibility_rotation"`
}

// HistoryConfig enables the sqlite publish history.
type HistoryConfig struct {
	// Path to the sqlite database; empty disables history.
	Path string `mapstructure:"path"`
}

// AdminConfig enables the local admin/status HTTP server.
type AdminConfig struct {
	// Listen address, e.g. "127.0.0.1:8686"; empty disables the server.
	Listen string `mapstructure:"listen"`
	Mode   string `mapstructure:"mode"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	FileOnly   bool   `mapstructure:"file_only"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from the given file (or the default search
// path), applies environment overrides, and validates it.
// Parameters:
//   - configPath: explicit config file path; empty uses config.yaml in ./configs or the working directory.
// Returns:
//   - *Config: validated configuration.
//   - error: non-nil on read, parse or validation failure.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("catalog.refresh_interval", 30*time.Minute)
	v.SetDefault("pool.state_path", "./data/pool.json")
	v.SetDefault("schedule.retry_interval", 600*time.Second)
	v.SetDefault("schedule.wake_interval", 30*time.Second)
	v.SetDefault("admin.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("server.base_url", "FEDIPOST_SERVER")
	v.BindEnv("server.token", "FEDIPOST_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration invariants that would otherwise
// surface as fatal errors mid-run.
// Parameters: none.
// Returns:
//   - error: non-nil describing the first violated constraint.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Server.Token == "" {
		return fmt.Errorf("server.token is required")
	}
	if c.Catalog.Source == "" {
		return fmt.Errorf("catalog.source is required")
	}
	if len(c.Schedule.Times) == 0 {
		return fmt.Errorf("schedule.times must contain at least one post time")
	}
	if _, err := schedule.ParseSlots(c.Schedule.Times); err != nil {
		return fmt.Errorf("invalid schedule.times: %w", err)
	}
	for _, vis := range c.Post.VisibilityRotation {
		if !validVisibility(vis) {
			return fmt.Errorf("invalid visibility %q in post.visibility_rotation", vis)
		}
	}
	if c.Post.Visibility != "" && !validVisibility(c.Post.Visibility) {
		return fmt.Errorf("invalid post.visibility %q", c.Post.Visibility)
	}
	return nil
}

// Slots returns the configured posting times parsed and sorted.
// Validate has already run, so parse failure is not expected.
// Parameters: none.
// Returns:
//   - []schedule.Slot: sorted daily slots.
//   - error: non-nil only if the times changed underneath validation.
func (c *Config) Slots() ([]schedule.Slot, error) {
	return schedule.ParseSlots(c.Schedule.Times)
}

func validVisibility(v string) bool {
	switch v {
	case "public", "unlisted", "private", "direct":
		return true
	}
	return false
}
