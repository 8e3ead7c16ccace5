// Package raid expires raids whose window has closed. The active->failed
// transition is terminal and idempotent against repeated sweeps.
package raid

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

type Executor struct {
	store storage.RaidStore
	notif *notify.Service
	log   logx.Logger
}

func NewExecutor(store storage.RaidStore, notif *notify.Service, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{store: store, notif: notif, log: log}
}

// Sweep fails every active raid past its expiry. The conditional write is
// the authority: once it matches, participants are marked defeated and a
// notification is attempted. Notification failure never rolls the
// transition back.
func (e *Executor) Sweep(ctx context.Context, now time.Time) error {
	due, err := e.store.DueRaids(ctx, now)
	if err != nil {
		return fmt.Errorf("list due raids: %w", err)
	}

	expired := 0
	for _, r := range due {
		matchedWrite, err := e.store.FailRaid(ctx, r.ID)
		if err != nil {
			e.log.Warn("raid fail write errored", logx.String("raid", r.ID), logx.Err(err))
			continue
		}
		if !matchedWrite {
			// Another sweep already expired it.
			continue
		}
		expired++

		defeated, err := e.store.DefeatRaidParticipants(ctx, r.ID)
		if err != nil {
			e.log.Warn("defeat participants errored", logx.String("raid", r.ID), logx.Err(err))
		}

		target := kit.ChatTarget{ChatID: r.ChannelID, ThreadID: r.ThreadID}
		text := fmt.Sprintf("The raid against %s in %s has ended in defeat. %d fighters fell.", r.Monster, r.Village, defeated)
		if fallen := e.fallenNames(ctx, r.ID); fallen != "" {
			text += " Fallen: " + fallen + "."
		}
		if _, ok := e.notif.ChannelThreadFirst(ctx, target, text); !ok {
			e.log.Warn("raid expiry notification not delivered", logx.String("raid", r.ID))
		}
	}

	if len(due) > 0 {
		e.log.Info("raid sweep done", logx.Int("due", len(due)), logx.Int("expired", expired))
	}
	return nil
}

// fallenNames lists the defeated fighters for the expiry notification.
// A lookup failure drops the names, never the notification.
func (e *Executor) fallenNames(ctx context.Context, raidID string) string {
	parts, err := e.store.RaidParticipants(ctx, raidID)
	if err != nil {
		e.log.Warn("list raid participants errored", logx.String("raid", raidID), logx.Err(err))
		return ""
	}
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Defeated {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}
