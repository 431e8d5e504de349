package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for MediTrack
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Reminders RemindersConfig `mapstructure:"reminders"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// ChannelsConfig holds notification channel settings
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Push     PushConfig     `mapstructure:"push"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	Webhook  string `mapstructure:"webhook"`
	// Messages per second allowed through the outgoing rate limiter
	SendRate float64 `mapstructure:"send_rate"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

// PushConfig holds web push (VAPID) settings
type PushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"` // mailto: contact for the push service
}

// RemindersConfig holds dispatch cycle settings
type RemindersConfig struct {
	// ToleranceMinutes is the half-width of the due window around each
	// scheduled time. A dose at 08:00 with tolerance 5 is due in
	// [07:55, 08:05].
	ToleranceMinutes int `mapstructure:"tolerance_minutes"`
	// TimezoneOffsetMinutes is the reference timezone for schedule clock
	// times, as minutes east of UTC. Clock times never follow the
	// server's local zone.
	TimezoneOffsetMinutes int `mapstructure:"timezone_offset_minutes"`
	// CycleSpec is the cron spec driving the dispatch cycle.
	CycleSpec string `mapstructure:"cycle_spec"`
	// SweepSpec is the cron spec for the missed-dose backfill sweep.
	SweepSpec string `mapstructure:"sweep_spec"`
	// DefaultSnoozeMinutes applies when a snooze action carries no duration.
	DefaultSnoozeMinutes int `mapstructure:"default_snooze_minutes"`
	// CronSecret guards the external dispatch trigger endpoint. Empty
	// disables the endpoint entirely.
	CronSecret string `mapstructure:"cron_secret"`
	Enabled    bool   `mapstructure:"enabled"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	AdminPassword string   `mapstructure:"admin_password"`
	AllowOrigins  []string `mapstructure:"allow_origins"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.Set("storage.sqlite_path", filepath.Join(dataDir, "meditrack.db"))
	v.Set("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "meditrack.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (MEDITRACK_SERVER_PORT, MEDITRACK_CHANNELS_TELEGRAM_BOT_TOKEN, etc.)
	v.SetEnvPrefix("MEDITRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	// Reminder defaults. Tolerance is fixed at 5 minutes to match the
	// documented due-window behavior; the cycle must run at least that
	// often or doses can fall between windows.
	v.SetDefault("reminders.enabled", true)
	v.SetDefault("reminders.tolerance_minutes", 5)
	v.SetDefault("reminders.timezone_offset_minutes", 0)
	v.SetDefault("reminders.cycle_spec", "* * * * *")
	v.SetDefault("reminders.sweep_spec", "30 0 * * *")
	v.SetDefault("reminders.default_snooze_minutes", 5)

	// Channel defaults
	v.SetDefault("channels.telegram.send_rate", 25.0)
	v.SetDefault("channels.push.subscriber", "mailto:support@meditrack.local")

	// Security defaults
	v.SetDefault("security.allow_origins", []string{"*"})
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "meditrack")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "meditrack")
}

// loadEnvOverrides loads secrets that Viper's AutomaticEnv misses for
// nested keys that were never touched by file or defaults.
func loadEnvOverrides(cfg *Config) {
	getEnv := func(key, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return fallback
	}

	cfg.Channels.Telegram.BotToken = getEnv("MEDITRACK_CHANNELS_TELEGRAM_BOT_TOKEN", cfg.Channels.Telegram.BotToken)
	cfg.Channels.Discord.Token = getEnv("MEDITRACK_CHANNELS_DISCORD_TOKEN", cfg.Channels.Discord.Token)
	cfg.Channels.Push.VAPIDPublicKey = getEnv("MEDITRACK_CHANNELS_PUSH_VAPID_PUBLIC_KEY", cfg.Channels.Push.VAPIDPublicKey)
	cfg.Channels.Push.VAPIDPrivateKey = getEnv("MEDITRACK_CHANNELS_PUSH_VAPID_PRIVATE_KEY", cfg.Channels.Push.VAPIDPrivateKey)
	cfg.Reminders.CronSecret = getEnv("MEDITRACK_REMINDERS_CRON_SECRET", cfg.Reminders.CronSecret)
	cfg.Security.JWTSecret = getEnv("MEDITRACK_SECURITY_JWT_SECRET", cfg.Security.JWTSecret)
	cfg.Security.AdminPassword = getEnv("MEDITRACK_SECURITY_ADMIN_PASSWORD", cfg.Security.AdminPassword)

	if cfg.Channels.Telegram.BotToken != "" {
		cfg.Channels.Telegram.Enabled = true
	}
	if cfg.Channels.Discord.Token != "" {
		cfg.Channels.Discord.Enabled = true
	}
	if cfg.Channels.Push.VAPIDPublicKey != "" && cfg.Channels.Push.VAPIDPrivateKey != "" {
		cfg.Channels.Push.Enabled = true
	}
}

func validate(cfg *Config) error {
	if cfg.Reminders.ToleranceMinutes <= 0 || cfg.Reminders.ToleranceMinutes > 720 {
		return fmt.Errorf("reminders.tolerance_minutes must be in (0, 720]")
	}

	if cfg.Reminders.TimezoneOffsetMinutes < -14*60 || cfg.Reminders.TimezoneOffsetMinutes > 14*60 {
		return fmt.Errorf("reminders.timezone_offset_minutes out of range")
	}

	if cfg.Channels.Push.Enabled {
		if cfg.Channels.Push.VAPIDPublicKey == "" || cfg.Channels.Push.VAPIDPrivateKey == "" {
			return fmt.Errorf("channels.push requires both VAPID keys")
		}
	}

	// Generate JWT secret if not provided
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateRandomString(32)
	}

	return nil
}

func generateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
