// Package weather owns the daily weather cycle: generate if missing, post
// to each village's channel, and apply weather damage exactly once per
// village per calendar day.
//
// State machine per (village, day): NotGenerated -> Generated -> Posted ->
// DamageApplied. The posted flag and the village's last-damage day are the
// only concurrency guards; both are conditional writes.
package weather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tinglebot/internal/services/notify"
	"tinglebot/internal/storage"
	kit "tinglebot/internal/transport"
	logx "tinglebot/pkg/logx"
)

// Store is the slice of the entity gateway this executor needs.
type Store interface {
	storage.VillageStore
	storage.WeatherStore
}

type Executor struct {
	store    Store
	notif    *notify.Service
	gen      Generator
	channels map[string]kit.ChatTarget // village -> channel
	loc      *time.Location
	log      logx.Logger
}

func NewExecutor(store Store, notif *notify.Service, gen Generator, channels map[string]kit.ChatTarget, loc *time.Location, log logx.Logger) *Executor {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{store: store, notif: notif, gen: gen, channels: channels, loc: loc, log: log}
}

// PostDaily runs the per-village weather cycle. With onlyIfMissing set
// (backup checks, startup reconciliation) villages whose record is already
// posted are a silent no-op.
func (e *Executor) PostDaily(ctx context.Context, now time.Time, onlyIfMissing bool) error {
	day := storage.Day(now, e.loc)
	villages, err := e.store.ListVillages(ctx)
	if err != nil {
		return fmt.Errorf("list villages: %w", err)
	}

	var firstErr error
	posted := 0
	for _, v := range villages {
		if err := e.postVillage(ctx, v, day, now, onlyIfMissing); err != nil {
			e.log.Warn("weather cycle failed for village", logx.String("village", v.Name), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		posted++
	}
	e.log.Info("weather cycle done",
		logx.String("day", day),
		logx.Int("villages", len(villages)),
		logx.Int("handled", posted),
		logx.Bool("only_if_missing", onlyIfMissing))
	return firstErr
}

func (e *Executor) postVillage(ctx context.Context, v storage.Village, day string, now time.Time, onlyIfMissing bool) error {
	w, err := e.store.WeatherForDay(ctx, v.Name, day)
	if err != nil {
		return fmt.Errorf("weather for day: %w", err)
	}
	if w == nil {
		gen := e.gen.Generate(v.Name, day, now)
		if err := e.store.InsertWeather(ctx, gen); err != nil {
			// A concurrent execution may have generated first; re-read.
			w, rerr := e.store.WeatherForDay(ctx, v.Name, day)
			if rerr != nil || w == nil {
				return fmt.Errorf("insert weather: %w", err)
			}
			if w.Posted {
				return nil
			}
			return e.postRecord(ctx, v, *w, now)
		}
		return e.postRecord(ctx, v, gen, now)
	}
	if w.Posted {
		// Already posted today; nothing to repair.
		return nil
	}
	return e.postRecord(ctx, v, *w, now)
}

func (e *Executor) postRecord(ctx context.Context, v storage.Village, w storage.Weather, now time.Time) error {
	target, ok := e.channels[v.Name]
	if !ok {
		return fmt.Errorf("no channel configured for village %s", v.Name)
	}

	report := Damage(w)
	if _, delivered := e.notif.Channel(ctx, target, formatWeather(v.Name, w, report)); !delivered {
		return fmt.Errorf("weather post not delivered for %s", v.Name)
	}

	claimed, err := e.store.MarkWeatherPosted(ctx, w.ID, now)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	if !claimed {
		// Another execution won the flag; it also owns the damage.
		return nil
	}

	if report.Total > 0 {
		applied, err := e.store.ApplyVillageDamage(ctx, v.Name, report.Total, w.Day)
		if err != nil {
			return fmt.Errorf("apply damage: %w", err)
		}
		if applied {
			e.log.Info("weather damage applied",
				logx.String("village", v.Name),
				logx.Int("hp", report.Total),
				logx.String("day", w.Day))
		}
	}
	return nil
}

func formatWeather(village string, w storage.Weather, report Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Weather for %s, %s\n", village, w.Day)
	fmt.Fprintf(&b, "Wind: %d km/h\n", w.WindKmh)
	if w.Precipitation != "" {
		fmt.Fprintf(&b, "Precipitation: %s\n", w.Precipitation)
	}
	if w.Special != "" {
		fmt.Fprintf(&b, "Special: %s\n", w.Special)
	}
	if report.Total > 0 {
		fmt.Fprintf(&b, "The village takes %d damage:", report.Total)
		for _, src := range report.Sources {
			fmt.Fprintf(&b, " %s (%d)", src.Label, src.HP)
		}
	}
	return strings.TrimSpace(b.String())
}
