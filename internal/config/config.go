package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "CONTRARIAN_TRACKER_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDirEnv    = "MASTER_DB_DIR"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Providers     ProviderConfig     `yaml:"providers"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// DatabaseConfig selects and parameterizes the master-store backend.
type DatabaseConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file postgres"`
	Dir     string `yaml:"dir"` // file backend: store directory
	DSN     string `yaml:"dsn"` // postgres backend
}

// AnalysisConfig carries the consensus and scoring knobs.
type AnalysisConfig struct {
	MinArticlesForConsensus int      `yaml:"minArticlesForConsensus" validate:"gte=1"`
	MinorityThreshold       float64  `yaml:"minorityThreshold" validate:"gt=0,lt=1"`
	SmoothingAlpha          float64  `yaml:"smoothingAlpha" validate:"gt=0,lte=1"`
	TieBreakOrder           []string `yaml:"tieBreakOrder" validate:"len=3,unique,dive,oneof=beat meet miss"`
}

// SchedulerConfig defines when recurring runs execute. With Enabled false
// the application performs a single run and exits.
type SchedulerConfig struct {
	Enabled        bool           `yaml:"enabled"`
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// ProviderConfig points at the collaborator drop directories with labeled
// article batches and earnings outcomes.
type ProviderConfig struct {
	ArticleDir string `yaml:"articleDir"`
	OutcomeDir string `yaml:"outcomeDir"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	return cfg
}

// Validate checks the numeric ranges and enum fields via struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(databaseDirEnv); v != "" {
		c.Database.Dir = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Database.Backend != "" {
		base.Database.Backend = override.Database.Backend
	}
	if override.Database.Dir != "" {
		base.Database.Dir = override.Database.Dir
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Analysis.MinArticlesForConsensus != 0 {
		base.Analysis.MinArticlesForConsensus = override.Analysis.MinArticlesForConsensus
	}
	if override.Analysis.MinorityThreshold != 0 {
		base.Analysis.MinorityThreshold = override.Analysis.MinorityThreshold
	}
	if override.Analysis.SmoothingAlpha != 0 {
		base.Analysis.SmoothingAlpha = override.Analysis.SmoothingAlpha
	}
	if len(override.Analysis.TieBreakOrder) > 0 {
		base.Analysis.TieBreakOrder = override.Analysis.TieBreakOrder
	}

	if override.Scheduler.Enabled {
		base.Scheduler.Enabled = true
	}
	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Providers.ArticleDir != "" {
		base.Providers.ArticleDir = override.Providers.ArticleDir
	}
	if override.Providers.OutcomeDir != "" {
		base.Providers.OutcomeDir = override.Providers.OutcomeDir
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database: DatabaseConfig{
			Backend: "file",
			Dir:     "master_contrarian_db",
		},
		Analysis: AnalysisConfig{
			MinArticlesForConsensus: 3,
			MinorityThreshold:       0.30,
			SmoothingAlpha:          0.3,
			TieBreakOrder:           []string{"beat", "meet", "miss"},
		},
		Scheduler: SchedulerConfig{CronExpression: "0 6 * * *", Timezone: defaultTimezone, location: tz},
		Providers: ProviderConfig{
			ArticleDir: "collaborator_outputs/articles",
			OutcomeDir: "collaborator_outputs/outcomes",
		},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BotToken: "", ChatID: ""},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
