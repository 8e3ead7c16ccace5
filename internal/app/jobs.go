package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tinglebot/internal/services/scheduler"
	"tinglebot/internal/timewindow"
	logx "tinglebot/pkg/logx"
)

// Compiled-in cron specs; config game.jobs overrides per name.
var defaultJobSpecs = map[string]string{
	"weather-post":     "0 8 * * *",
	"weather-backup":   "10 8 * * *",
	"quest-generate":   "5 0 * * *",
	"quest-missed":     "0 * * * *",
	"quest-complete":   "*/30 * * * *",
	"blight-progress":  "0 20 * * *",
	"boost-expire":     "0 * * * *",
	"buff-expire":      "0 * * * *",
	"debuff-expire":    "0 * * * *",
	"birthday":         "0 0 * * *",
	"jail-release":     "*/15 * * * *",
	"daily-roll-reset": "0 0 * * *",
	"blood-moon-check": "45 19 * * *",
}

func (a *App) jobSpec(name string) string {
	if spec := strings.TrimSpace(a.cfg.Game.Jobs[name]); spec != "" {
		return spec
	}
	return defaultJobSpecs[name]
}

func (a *App) windows() []timewindow.Window {
	out := make([]timewindow.Window, 0, len(a.cfg.Game.Windows))
	for _, w := range a.cfg.Game.Windows {
		out = append(out, timewindow.Window{
			Name:      w.Name,
			Hour:      w.Hour,
			Tolerance: time.Duration(w.ToleranceMinutes) * time.Minute,
		})
	}
	return out
}

func (a *App) registerJobs() error {
	addCron := func(name string, handler func(ctx context.Context) error) error {
		return a.sched.AddCron(name, a.jobSpec(name), scheduler.JobOptions{}, handler)
	}
	now := func() time.Time { return time.Now() }

	if err := addCron("weather-post", func(ctx context.Context) error {
		return a.weather.PostDaily(ctx, now(), false)
	}); err != nil {
		return err
	}

	// The backup only acts inside its tolerance window, so a delayed
	// firing (or a manual trigger hours later) stays a no-op.
	windows := a.windows()
	loc := a.sched.Location()
	if err := addCron("weather-backup", func(ctx context.Context) error {
		if res := timewindow.Check(now(), loc, windows); !res.Valid {
			a.log.Debug("weather backup outside its window; skipping")
			return nil
		}
		return a.weather.PostDaily(ctx, now(), true)
	}); err != nil {
		return err
	}

	// The raid sweep may outlast its interval on a slow day; interleaved
	// firings are safe because every transition is conditional.
	if err := a.sched.AddInterval("raid-sweep", 5*time.Minute, scheduler.JobOptions{Overlap: scheduler.OverlapAllow}, func(ctx context.Context) error {
		return a.raids.Sweep(ctx, now())
	}); err != nil {
		return err
	}

	if err := addCron("quest-generate", func(ctx context.Context) error {
		return a.quests.GenerateDaily(ctx, now())
	}); err != nil {
		return err
	}
	for _, slot := range a.cfg.Game.QuestSlots {
		t, err := time.Parse("15:04", slot)
		if err != nil {
			return fmt.Errorf("quest slot %q: %w", slot, err)
		}
		name := "quest-slot-" + slot
		spec := fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour())
		if err := a.sched.AddCron(name, spec, scheduler.JobOptions{}, func(ctx context.Context) error {
			return a.quests.PostSlot(ctx, now(), slot)
		}); err != nil {
			return err
		}
	}
	if err := addCron("quest-missed", func(ctx context.Context) error {
		return a.quests.CatchMissed(ctx, now())
	}); err != nil {
		return err
	}
	if err := addCron("quest-complete", func(ctx context.Context) error {
		return a.quests.CompletionSweep(ctx, now())
	}); err != nil {
		return err
	}

	if err := addCron("blight-progress", func(ctx context.Context) error {
		return a.upkeep.ProgressBlight(ctx, now())
	}); err != nil {
		return err
	}
	if err := addCron("boost-expire", func(ctx context.Context) error {
		return a.upkeep.ExpireBoosts(ctx, now())
	}); err != nil {
		return err
	}
	if err := addCron("buff-expire", func(ctx context.Context) error {
		return a.upkeep.ExpireBuffs(ctx, now())
	}); err != nil {
		return err
	}
	if err := addCron("debuff-expire", func(ctx context.Context) error {
		return a.upkeep.ExpireDebuffs(ctx, now())
	}); err != nil {
		return err
	}
	if err := addCron("birthday", func(ctx context.Context) error {
		return a.upkeep.AnnounceBirthdays(ctx, now())
	}); err != nil {
		return err
	}
	if err := addCron("jail-release", func(ctx context.Context) error {
		return a.upkeep.ReleaseJailed(ctx, now())
	}); err != nil {
		return err
	}
	if err := addCron("daily-roll-reset", func(ctx context.Context) error {
		return a.upkeep.ResetDailyRolls(ctx)
	}); err != nil {
		return err
	}
	if err := addCron("blood-moon-check", func(ctx context.Context) error {
		return a.upkeep.BloodMoonCheck(ctx, now())
	}); err != nil {
		return err
	}

	snap := a.sched.Snapshot()
	a.log.Info("job table registered", logx.Int("jobs", len(snap.Jobs)))
	return nil
}
