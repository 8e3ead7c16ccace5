// Package notify delivers messages to the chat platform on behalf of the
// state-transition executors.
//
// Delivery is best-effort by contract: the state transition that triggered
// a notification is authoritative once written, so send failures are
// logged and reported as a bool, never as an error the caller must handle.
package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	kit "tinglebot/internal/transport"
	logx "tinglebot/pkg/logx"
)

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
}

type Service struct {
	adapter kit.Adapter
	log     logx.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		adapter: adapter,
		log:     log,
		// Burst = rate so short spikes don't stall a sweep.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		timeout: cfg.SendTimeout,
	}
}

// Channel sends to a channel target. Reports whether delivery succeeded.
func (s *Service) Channel(ctx context.Context, to kit.ChatTarget, text string) (kit.MessageRef, bool) {
	if err := s.limiter.Wait(ctx); err != nil {
		s.log.Warn("notification dropped before send", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return kit.MessageRef{}, false
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ref, err := s.adapter.SendChannel(sctx, to, text, &kit.SendOptions{DisablePreview: true})
	if err != nil {
		s.log.Warn("channel send failed",
			logx.Int64("chat_id", to.ChatID),
			logx.Int("thread_id", to.ThreadID),
			logx.Err(err))
		return kit.MessageRef{}, false
	}
	return ref, true
}

// ChannelThreadFirst tries the thread, then falls back to the bare channel.
// Raids notify this way: the thread may be archived or gone while the
// channel still exists.
func (s *Service) ChannelThreadFirst(ctx context.Context, to kit.ChatTarget, text string) (kit.MessageRef, bool) {
	if to.ThreadID != 0 {
		if ref, ok := s.Channel(ctx, to, text); ok {
			return ref, true
		}
		s.log.Debug("thread send failed; falling back to channel",
			logx.Int64("chat_id", to.ChatID), logx.Int("thread_id", to.ThreadID))
	}
	return s.Channel(ctx, kit.ChatTarget{ChatID: to.ChatID}, text)
}

// DM sends a direct message to a user. Reports whether delivery succeeded.
func (s *Service) DM(ctx context.Context, userID int64, text string) bool {
	if err := s.limiter.Wait(ctx); err != nil {
		s.log.Warn("dm dropped before send", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.adapter.SendDM(sctx, userID, text); err != nil {
		s.log.Warn("dm send failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return true
}
