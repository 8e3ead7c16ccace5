// Package upkeep holds the small recurring character and world sweeps.
// They all share one shape: query due entities, apply a conditional
// terminal write per entity, optionally notify, log a summary count.
package upkeep

import (
	"context"
	"fmt"
	"time"

	"tinglebot/internal/services/notify"
	"tinglebot/internal/storage"
	kit "tinglebot/internal/transport"
	logx "tinglebot/pkg/logx"
)

const (
	// Blight worsens one stage per interval until the final stage.
	blightStageInterval = 24 * time.Hour
	maxBlightStage      = 5

	// Blood moons recur on a fixed cycle counted from an epoch.
	bloodMoonCycleDays = 26
)

var bloodMoonEpoch = time.Date(2024, time.January, 25, 0, 0, 0, 0, time.UTC)

type Store interface {
	storage.CharacterStore
	storage.WorldEventStore
}

type Executor struct {
	store    Store
	notif    *notify.Service
	channels map[string]kit.ChatTarget // village name -> announcement channel
	loc      *time.Location
	log      logx.Logger
}

func NewExecutor(store Store, notif *notify.Service, channels map[string]kit.ChatTarget, loc *time.Location, log logx.Logger) *Executor {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{store: store, notif: notif, channels: channels, loc: loc, log: log}
}

// ReleaseJailed frees characters whose sentence has ended. The conditional
// release means a concurrent sweep observes zero matched rows and stays
// silent, so each character is told exactly once.
func (e *Executor) ReleaseJailed(ctx context.Context, now time.Time) error {
	due, err := e.store.DueJailed(ctx, now)
	if err != nil {
		return fmt.Errorf("due jailed: %w", err)
	}

	released := 0
	for _, c := range due {
		ok, err := e.store.ReleaseJail(ctx, c.ID)
		if err != nil {
			e.log.Warn("jail release errored", logx.Int64("character", c.ID), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		released++
		e.notif.DM(ctx, c.ID, fmt.Sprintf("%s has served their time and is free to roam again.", c.Name))
	}
	if released > 0 {
		e.log.Info("jailed characters released", logx.Int("count", released))
	}
	return nil
}

// ExpireBuffs clears buffs, debuffs and boosts whose end instant passed.
func (e *Executor) ExpireBuffs(ctx context.Context, now time.Time) error {
	n, err := e.store.ExpireBuffs(ctx, now)
	if err != nil {
		return fmt.Errorf("expire buffs: %w", err)
	}
	if n > 0 {
		e.log.Info("buffs expired", logx.Int("count", n))
	}
	return nil
}

func (e *Executor) ExpireDebuffs(ctx context.Context, now time.Time) error {
	n, err := e.store.ExpireDebuffs(ctx, now)
	if err != nil {
		return fmt.Errorf("expire debuffs: %w", err)
	}
	if n > 0 {
		e.log.Info("debuffs expired", logx.Int("count", n))
	}
	return nil
}

func (e *Executor) ExpireBoosts(ctx context.Context, now time.Time) error {
	n, err := e.store.ExpireBoosts(ctx, now)
	if err != nil {
		return fmt.Errorf("expire boosts: %w", err)
	}
	if n > 0 {
		e.log.Info("boosts expired", logx.Int("count", n))
	}
	return nil
}

// AnnounceBirthdays posts a greeting in each celebrant's village channel.
// The calendar match uses the engine's governing timezone.
func (e *Executor) AnnounceBirthdays(ctx context.Context, now time.Time) error {
	local := now.In(e.loc)
	chars, err := e.store.BirthdayCharacters(ctx, int(local.Month()), local.Day())
	if err != nil {
		return fmt.Errorf("birthday characters: %w", err)
	}

	announced := 0
	for _, c := range chars {
		target, ok := e.channels[c.Village]
		if !ok {
			e.log.Debug("birthday without a village channel", logx.String("character", c.Name))
			continue
		}
		if _, ok := e.notif.Channel(ctx, target, fmt.Sprintf("Today is %s's birthday! Stop by and celebrate.", c.Name)); ok {
			announced++
		}
	}
	if announced > 0 {
		e.log.Info("birthdays announced", logx.Int("count", announced))
	}
	return nil
}

// ProgressBlight advances every overdue blighted character by one stage.
// The stage-compare write keeps concurrent sweeps from double-advancing.
func (e *Executor) ProgressBlight(ctx context.Context, now time.Time) error {
	due, err := e.store.DueBlight(ctx, now)
	if err != nil {
		return fmt.Errorf("due blight: %w", err)
	}

	advanced := 0
	for _, c := range due {
		if c.BlightStage >= maxBlightStage {
			continue
		}
		ok, err := e.store.AdvanceBlightStage(ctx, c.ID, c.BlightStage, now.Add(blightStageInterval))
		if err != nil {
			e.log.Warn("blight advance errored", logx.Int64("character", c.ID), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		advanced++
		stage := c.BlightStage + 1
		if stage >= maxBlightStage {
			e.notif.DM(ctx, c.ID, fmt.Sprintf("%s's blight has reached its final stage. Seek healing immediately.", c.Name))
		} else {
			e.notif.DM(ctx, c.ID, fmt.Sprintf("%s's blight has worsened to stage %d.", c.Name, stage))
		}
	}
	if advanced > 0 {
		e.log.Info("blight stages advanced", logx.Int("count", advanced))
	}
	return nil
}

// ResetDailyRolls zeroes every character's daily roll counter.
func (e *Executor) ResetDailyRolls(ctx context.Context) error {
	n, err := e.store.ResetDailyRolls(ctx)
	if err != nil {
		return fmt.Errorf("reset daily rolls: %w", err)
	}
	e.log.Info("daily rolls reset", logx.Int("count", n))
	return nil
}

// IsBloodMoonDay reports whether the calendar day of t falls on the
// blood moon cycle.
func IsBloodMoonDay(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	days := int(day.Sub(bloodMoonEpoch).Hours() / 24)
	// Floored modulo keeps the phase continuous for days before the
	// epoch as well.
	rem := ((days % bloodMoonCycleDays) + bloodMoonCycleDays) % bloodMoonCycleDays
	return rem == 0
}

// BloodMoonCheck announces a blood moon in every village channel, at most
// once per calendar day. Safe to run again at startup: the announcement
// dedup is a conditional insert.
func (e *Executor) BloodMoonCheck(ctx context.Context, now time.Time) error {
	if !IsBloodMoonDay(now, e.loc) {
		return nil
	}
	day := storage.Day(now, e.loc)
	claimed, err := e.store.MarkEventAnnounced(ctx, "blood-moon", day, now)
	if err != nil {
		return fmt.Errorf("mark blood moon announced: %w", err)
	}
	if !claimed {
		return nil
	}

	for village, target := range e.channels {
		if _, ok := e.notif.Channel(ctx, target, "A Blood Moon rises tonight. Strange things stir beyond the village walls."); !ok {
			e.log.Warn("blood moon announcement failed", logx.String("village", village))
		}
	}
	e.log.Info("blood moon announced", logx.String("day", day))
	return nil
}
