package noticecast

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/agrivoice/channels"
	"github.com/hazyhaar/agrivoice/horosafe"
	"github.com/hazyhaar/agrivoice/noticecast/internal/distribute"
	"github.com/hazyhaar/agrivoice/noticecast/internal/source"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGRIVOICE_"

// Source kinds.
const (
	SourceFeed    = "feed"
	SourceListing = "listing"
)

// Config holds the noticecast configuration. It is loaded from YAML, then
// overridden by AGRIVOICE_* environment variables.
type Config struct {
	DataDir  string `yaml:"data_dir" env:"DATA_DIR,expand"`
	DBPath   string `yaml:"db_path" env:"DB_PATH,expand"`     // default: <data_dir>/agrivoice.db
	AudioDir string `yaml:"audio_dir" env:"AUDIO_DIR,expand"` // default: <data_dir>/audio
	Lang     string `yaml:"lang" env:"LANG"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	Source     SourceConfig     `yaml:"source" envPrefix:"SOURCE_"`
	Speech     SpeechConfig     `yaml:"speech" envPrefix:"SPEECH_"`
	Distribute DistributeConfig `yaml:"distribute" envPrefix:"DISTRIBUTE_"`
	Schedule   ScheduleConfig   `yaml:"schedule" envPrefix:"SCHEDULE_"`
	Channel    ChannelConfig    `yaml:"channel" envPrefix:"CHANNEL_"`
	Twilio     TwilioConfig     `yaml:"twilio" envPrefix:"TWILIO_"`
	PublicURL  PublicURLConfig  `yaml:"public_url" envPrefix:"PUBLIC_URL_"`
	HTTP       HTTPConfig       `yaml:"http" envPrefix:"HTTP_"`
}

// SourceConfig selects and configures the notice source.
type SourceConfig struct {
	Kind    string               `yaml:"kind" env:"KIND"` // "feed" or "listing"
	Feed    source.FeedConfig    `yaml:"feed"`
	Listing source.ListingConfig `yaml:"listing"`
	// URL overrides Feed.URL or Listing.URL depending on Kind.
	URL string `yaml:"-" env:"URL"`
}

// SpeechConfig configures the TTS client and the voice-note cache.
type SpeechConfig struct {
	URL       string        `yaml:"url" env:"URL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CacheSize int           `yaml:"cache_size" env:"CACHE_SIZE"`
	CacheTTL  time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// DistributeConfig tunes delivery pacing.
type DistributeConfig struct {
	Count                int           `yaml:"count" env:"COUNT"`
	MessageDelay         time.Duration `yaml:"message_delay" env:"MESSAGE_DELAY"`
	RecipientDelay       time.Duration `yaml:"recipient_delay" env:"RECIPIENT_DELAY"`
	ResendMessageDelay   time.Duration `yaml:"resend_message_delay" env:"RESEND_MESSAGE_DELAY"`
	ResendRecipientDelay time.Duration `yaml:"resend_recipient_delay" env:"RESEND_RECIPIENT_DELAY"`
	MaxConcurrent        int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
}

// ScheduleConfig configures the periodic jobs.
type ScheduleConfig struct {
	Disabled          bool          `yaml:"disabled" env:"DISABLED"`
	IngestEvery       time.Duration `yaml:"ingest_every" env:"INGEST_EVERY"`
	ResendAt          string        `yaml:"resend_at" env:"RESEND_AT"` // "HH:MM", "off" disables the daily resend
	CheckInterval     time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
	Timezone          string        `yaml:"timezone" env:"TIMEZONE"`
	SkipInitialIngest bool          `yaml:"skip_initial_ingest" env:"SKIP_INITIAL_INGEST"`
}

// ChannelConfig selects the messaging platform. Non-Twilio platforms take
// their settings from Options, marshalled to JSON for the factory.
type ChannelConfig struct {
	Platform string         `yaml:"platform" env:"PLATFORM"`
	Name     string         `yaml:"name" env:"NAME"`
	Options  map[string]any `yaml:"options"`
}

// TwilioConfig holds the WhatsApp credentials.
type TwilioConfig struct {
	AccountSID     string `yaml:"account_sid" env:"ACCOUNT_SID"`
	AuthToken      string `yaml:"auth_token" env:"AUTH_TOKEN"`
	From           string `yaml:"from" env:"FROM"`
	StatusCallback string `yaml:"status_callback" env:"STATUS_CALLBACK"`
	BaseURL        string `yaml:"base_url" env:"BASE_URL"`
}

// PublicURLConfig lists the base URL providers, tried in order: Static,
// Env, then the tunnel probe.
type PublicURLConfig struct {
	Static   string        `yaml:"static" env:"STATIC"`
	EnvVar   string        `yaml:"env_var" env:"ENV_VAR"`
	NgrokAPI string        `yaml:"ngrok_api" env:"NGROK_API"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// HTTPConfig configures the control surface.
type HTTPConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	AuthUser     string        `yaml:"auth_user" env:"AUTH_USER"`
	AuthHash     string        `yaml:"auth_hash" env:"AUTH_HASH"` // bcrypt
	MCP          bool          `yaml:"mcp" env:"MCP"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "agrivoice.db")
	}
	if c.AudioDir == "" {
		c.AudioDir = filepath.Join(c.DataDir, "audio")
	}
	if c.Lang == "" {
		c.Lang = "hi"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceFeed
	}
	if c.Source.URL != "" {
		switch c.Source.Kind {
		case SourceListing:
			c.Source.Listing.URL = c.Source.URL
		default:
			c.Source.Feed.URL = c.Source.URL
		}
	}
	if c.Speech.CacheSize <= 0 {
		c.Speech.CacheSize = 256
	}
	if c.Speech.CacheTTL <= 0 {
		c.Speech.CacheTTL = 24 * time.Hour
	}

	def := distribute.DefaultConfig()
	if c.Distribute.Count <= 0 {
		c.Distribute.Count = def.Count
	}
	if c.Distribute.MessageDelay == 0 {
		c.Distribute.MessageDelay = def.MessageDelay
	}
	if c.Distribute.RecipientDelay == 0 {
		c.Distribute.RecipientDelay = def.RecipientDelay
	}
	if c.Distribute.ResendMessageDelay == 0 {
		c.Distribute.ResendMessageDelay = def.ResendMessageDelay
	}
	if c.Distribute.ResendRecipientDelay == 0 {
		c.Distribute.ResendRecipientDelay = def.ResendRecipientDelay
	}

	if c.Schedule.IngestEvery <= 0 {
		c.Schedule.IngestEvery = 6 * time.Hour
	}
	if c.Schedule.ResendAt == "" {
		c.Schedule.ResendAt = "09:00"
	}
	if c.Schedule.CheckInterval <= 0 {
		c.Schedule.CheckInterval = time.Minute
	}

	if c.Channel.Platform == "" {
		if c.Twilio.AccountSID != "" {
			c.Channel.Platform = channels.PlatformTwilioWhatsApp
		} else {
			c.Channel.Platform = channels.PlatformLog
		}
	}
	if c.Channel.Name == "" {
		c.Channel.Name = "farmers"
	}

	if c.PublicURL.EnvVar == "" {
		c.PublicURL.EnvVar = "SERVER_URL"
	}
	if c.PublicURL.CacheTTL <= 0 {
		c.PublicURL.CacheTTL = 5 * time.Minute
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":5000"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
}

// Validate checks the settings New depends on.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceFeed, SourceListing:
	default:
		return fmt.Errorf("noticecast: config: unknown source kind %q", c.Source.Kind)
	}
	for _, u := range []string{c.Source.Feed.URL, c.Source.Feed.WarmupURL, c.Source.Listing.URL, c.Speech.URL} {
		if u == "" {
			continue
		}
		if err := horosafe.ValidateURL(u); err != nil {
			return fmt.Errorf("noticecast: config: %w", err)
		}
	}
	if c.Schedule.ResendAt != "" && c.Schedule.ResendAt != "off" {
		if _, err := time.Parse("15:04", c.Schedule.ResendAt); err != nil {
			return fmt.Errorf("noticecast: config: resend_at %q: want HH:MM", c.Schedule.ResendAt)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Channel.Platform == channels.PlatformTwilioWhatsApp && (c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "") {
		return fmt.Errorf("noticecast: config: %s needs twilio account_sid and auth_token", c.Channel.Platform)
	}
	if (c.HTTP.AuthUser == "") != (c.HTTP.AuthHash == "") {
		return fmt.Errorf("noticecast: config: http auth_user and auth_hash must be set together")
	}
	return nil
}

// Location returns the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("noticecast: config: timezone: %w", err)
	}
	return loc, nil
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) distributeConfig() distribute.Config {
	return distribute.Config{
		Count:                c.Distribute.Count,
		Lang:                 c.Lang,
		MessageDelay:         c.Distribute.MessageDelay,
		RecipientDelay:       c.Distribute.RecipientDelay,
		ResendMessageDelay:   c.Distribute.ResendMessageDelay,
		ResendRecipientDelay: c.Distribute.ResendRecipientDelay,
		MaxConcurrent:        c.Distribute.MaxConcurrent,
	}
}

// LoadConfig reads the YAML file at path (skipped when path is empty),
// applies environment overrides and fills defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("noticecast: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("noticecast: parse config: %w", err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("noticecast: env config: %w", err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
