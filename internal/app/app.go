// Package app assembles the engine: config, logging, storage, the chat
// adapter, the scheduler with its job table, and the startup reconciler.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tinglebot/internal/config"
	"tinglebot/internal/game/quest"
	"tinglebot/internal/game/raid"
	"tinglebot/internal/game/upkeep"
	"tinglebot/internal/game/weather"
	"tinglebot/internal/services/notify"
	"tinglebot/internal/services/reconcile"
	"tinglebot/internal/services/scheduler"
	"tinglebot/internal/storage"
	kit "tinglebot/internal/transport"
	telegram "tinglebot/internal/transport/telegram/adapter"
	logx "tinglebot/pkg/logx"
)

type App struct {
	cfg  *config.Config
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter kit.Adapter
	notif   *notify.Service
	sched   *scheduler.Service

	weather *weather.Executor
	raids   *raid.Executor
	quests  *quest.Executor
	upkeep  *upkeep.Executor
	rec     *reconcile.Runner

	cancelWatch context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Timezone()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The chat sink needs its target set before it is enabled, so Apply
	// runs twice: once muted, once with the real enable flag.
	logCfg := mapLoggingConfig(cfg.Logging)
	muted := logCfg
	muted.Chat.Enabled = false
	logSvc, log := logx.New(muted, adapter)
	if cfg.Logging.Chat.ChatID != 0 {
		logSvc.SetChatTarget(cfg.Logging.Chat.ChatID, cfg.Logging.Chat.ThreadID)
	}
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	sendTimeout, err := config.ParseDurationField("notify.send_timeout", cfg.Notify.SendTimeout)
	if err != nil {
		return nil, err
	}
	notif := notify.New(notify.Config{
		RatePerSec:  cfg.Notify.RatePerSec,
		SendTimeout: sendTimeout,
	}, adapter, log.With(logx.String("comp", "notify")))

	defaultTimeout, err := config.ParseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(scheduler.Config{
		Timezone:       cfg.Scheduler.Timezone,
		HistorySize:    cfg.Scheduler.HistorySize,
		DefaultTimeout: defaultTimeout,
	}, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, err
	}

	channels := make(map[string]kit.ChatTarget, len(cfg.Game.Villages))
	for name, ch := range cfg.Game.Villages {
		channels[name] = kit.ChatTarget{ChatID: ch.ChatID, ThreadID: ch.ThreadID}
	}

	weatherEx := weather.NewExecutor(store, notif, weather.NewRandomGenerator(time.Now().UnixNano()), channels, loc, log.With(logx.String("comp", "weather")))
	raidEx := raid.NewExecutor(store, notif, log.With(logx.String("comp", "raid")))
	questEx := quest.NewExecutor(store, store, notif, quest.NewTemplateGenerator(time.Now().UnixNano()),
		&channelRewarder{notif: notif, channels: channels},
		quest.Config{
			Slots:                cfg.Game.QuestSlots,
			SubmissionCutoffHour: cfg.Game.SubmissionCutoffHour,
			Channels:             channels,
		}, loc, log.With(logx.String("comp", "quest")))
	upkeepEx := upkeep.NewExecutor(store, notif, channels, loc, log.With(logx.String("comp", "upkeep")))

	rec := reconcile.NewRunner(reconcile.Tasks{
		Priority:   reconcile.Member{Name: "raid-sweep", Run: raidEx.Sweep},
		WorldEvent: reconcile.Member{Name: "blood-moon", Run: upkeepEx.BloodMoonCheck},
		Members: []reconcile.Member{
			{Name: "buff-expire", Run: upkeepEx.ExpireBuffs},
			{Name: "debuff-expire", Run: upkeepEx.ExpireDebuffs},
			{Name: "jail-release", Run: upkeepEx.ReleaseJailed},
			{Name: "quest-generate", Run: questEx.GenerateDaily},
			{Name: "quest-missed", Run: questEx.CatchMissed},
			{Name: "weather-missed", Run: func(ctx context.Context, now time.Time) error {
				return weatherEx.PostDaily(ctx, now, true)
			}},
		},
	}, log.With(logx.String("comp", "reconcile")))

	return &App{
		cfg:     cfg,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: adapter,
		notif:   notif,
		sched:   sched,
		weather: weatherEx,
		raids:   raidEx,
		quests:  questEx,
		upkeep:  upkeepEx,
		rec:     rec,
	}, nil
}

// Start verifies the adapter, registers the job table, launches the
// scheduler and kicks off reconciliation. Reconciliation runs alongside
// job registration, never before it.
func (a *App) Start(ctx context.Context) error {
	if err := a.adapter.Ready(ctx); err != nil {
		return fmt.Errorf("chat adapter not ready: %w", err)
	}

	if err := a.registerJobs(); err != nil {
		return err
	}
	a.sched.Start(ctx)

	go func() {
		if err := a.rec.Run(ctx, time.Now()); err != nil {
			a.log.Error("startup reconciliation failed", logx.Err(err))
		}
	}()

	a.watchConfig(ctx)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("engine started", logx.String("timezone", a.sched.Location().String()))
	return nil
}

// watchConfig hot-applies file changes. Only the logging section takes
// effect at runtime; everything else stays as loaded at start.
func (a *App) watchConfig(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	a.cancelWatch = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(1)
	go func() {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				if cfg.Logging.Chat.ChatID != 0 {
					a.logs.SetChatTarget(cfg.Logging.Chat.ChatID, cfg.Logging.Chat.ThreadID)
				}
				a.logs.Apply(mapLoggingConfig(cfg.Logging))
				a.log.Info("logging config reapplied", logx.String("level", cfg.Logging.Level))
			}
		}
	}()
	go func() {
		if err := a.cfgm.Watch(wctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	a.sched.Stop(ctx)
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("engine stopped")
	return a.logs.Close()
}

func mapLoggingConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			ThreadID:   lc.Chat.ThreadID,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

// channelRewarder announces completions in the quest's village channel.
// Individual payout bookkeeping lives in the gameplay process.
type channelRewarder struct {
	notif    *notify.Service
	channels map[string]kit.ChatTarget
}

func (r *channelRewarder) Distribute(ctx context.Context, q storage.Quest) error {
	target, ok := r.channels[q.Village]
	if !ok {
		return fmt.Errorf("no channel for village %s", q.Village)
	}
	if _, ok := r.notif.Channel(ctx, target, fmt.Sprintf("The quest %q is complete! Rewards are on their way to all %d participants.", q.Title, q.Participants)); !ok {
		return fmt.Errorf("reward announcement not delivered")
	}
	return nil
}
