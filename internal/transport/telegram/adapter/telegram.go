// Package adapter implements the messaging gateway on top of Telegram.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "tinglebot/internal/transport"
	logx "tinglebot/pkg/logx"
)

// Telegram caps messages at 4096 UTF-16 code units; stay under it.
const maxMessageLen = 4000

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter is a send-only Telegram client. The world-state engine never
// consumes inbound updates; gameplay commands live in a separate process.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot

	// chatMu guards the resolved-channel cache.
	chatMu sync.Mutex
	chats  map[int64]kit.ChannelInfo
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:   cfg,
		log:   log,
		bot:   b,
		chats: map[int64]kit.ChannelInfo{},
	}, nil
}

// Ready reports whether the bot authenticated against the Telegram API.
// tele.NewBot resolves the bot identity eagerly, so a nil Me means the
// client is unusable and no jobs should be registered against it.
func (a *Adapter) Ready(ctx context.Context) error {
	if a.bot == nil || a.bot.Me == nil {
		return errors.New("telegram client not authenticated")
	}
	return nil
}

func (a *Adapter) SendChannel(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{DisablePreview: true}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitMessage(text) {
		select {
		case <-ctx.Done():
			if first.ChatID != 0 {
				return first, ctx.Err()
			}
			return kit.MessageRef{}, ctx.Err()
		default:
		}

		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendDM(ctx context.Context, userID int64, text string) (kit.MessageRef, error) {
	return a.SendChannel(ctx, kit.ChatTarget{ChatID: userID}, text, nil)
}

func (a *Adapter) FetchChannel(ctx context.Context, chatID int64) (kit.ChannelInfo, error) {
	a.chatMu.Lock()
	if info, ok := a.chats[chatID]; ok {
		a.chatMu.Unlock()
		return info, nil
	}
	a.chatMu.Unlock()

	chat, err := a.bot.ChatByID(chatID)
	if err != nil {
		return kit.ChannelInfo{}, err
	}
	info := kit.ChannelInfo{ChatID: chat.ID, Title: chat.Title, Type: string(chat.Type)}

	a.chatMu.Lock()
	a.chats[chatID] = info
	a.chatMu.Unlock()
	return info, nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// No poll loop to tear down; nothing holds platform resources open.
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxMessageLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxMessageLen {
		cut := strings.LastIndex(text[:maxMessageLen], "\n")
		if cut <= 0 {
			cut = maxMessageLen
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
