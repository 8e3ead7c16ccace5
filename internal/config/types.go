package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
	Game      GameConfig      `json:"game"`
}

type TelegramConfig struct {
	Token string `json:"token" env:"TINGLEBOT_TELEGRAM_TOKEN"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warnings and errors into an operator channel.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is the engine's governing timezone; individual jobs may
	// override it.
	Timezone string `json:"timezone"`
	// DefaultTimeout is a Go duration string. "0s" disables the per-run
	// timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path" env:"TINGLEBOT_DB_PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type NotifyConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"` // Go duration string
}

type GameConfig struct {
	// Villages maps each village to its announcement channel.
	Villages map[string]VillageChannel `json:"villages"`

	// QuestSlots are the recurring daily posting slots, "HH:MM" ascending.
	QuestSlots []string `json:"quest_slots,omitempty"`

	// SubmissionCutoffHour is the local hour after which submission
	// quests are regenerated rather than posted.
	SubmissionCutoffHour int `json:"submission_cutoff_hour,omitempty"`

	// Jobs overrides the compiled-in cron spec per job name.
	Jobs map[string]string `json:"jobs,omitempty"`

	// Windows are the named tolerance windows the backup jobs check
	// before acting.
	Windows []WindowConfig `json:"windows,omitempty"`
}

type VillageChannel struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

type WindowConfig struct {
	Name string `json:"name"`
	Hour int    `json:"hour"`
	// ToleranceMinutes bounds how far past the hour the window stays
	// open.
	ToleranceMinutes int `json:"tolerance_minutes"`
}

// ApplyEnv overlays environment variables onto file-sourced values.
// Secrets like the bot token are expected to arrive this way in
// production.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("env overlay: %w", err)
	}
	return nil
}

// Validate checks the fields the process cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (file or TINGLEBOT_TELEGRAM_TOKEN)")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if len(c.Game.Villages) == 0 {
		return fmt.Errorf("game.villages must name at least one village")
	}
	for name, ch := range c.Game.Villages {
		if ch.ChatID == 0 {
			return fmt.Errorf("game.villages[%s].chat_id is required", name)
		}
	}
	for _, slot := range c.Game.QuestSlots {
		if _, err := time.Parse("15:04", slot); err != nil {
			return fmt.Errorf("game.quest_slots: invalid slot %q", slot)
		}
	}
	for _, w := range c.Game.Windows {
		if w.Hour < 0 || w.Hour > 23 {
			return fmt.Errorf("game.windows[%s].hour out of range", w.Name)
		}
		if w.ToleranceMinutes <= 0 {
			return fmt.Errorf("game.windows[%s].tolerance_minutes must be > 0", w.Name)
		}
	}
	for _, d := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"scheduler.default_timeout", c.Scheduler.DefaultTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"notify.send_timeout", c.Notify.SendTimeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}

// Timezone resolves the configured scheduler timezone, defaulting to UTC.
func (c *Config) Timezone() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}
