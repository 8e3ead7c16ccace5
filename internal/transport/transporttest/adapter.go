// Package transporttest provides a recording in-memory Adapter for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	kit "tinglebot/internal/transport"
)

type Sent struct {
	Target kit.ChatTarget
	UserID int64 // non-zero for DMs
	Text   string
}

// Adapter records every send. Set FailChannel/FailDM to force errors.
type Adapter struct {
	mu     sync.Mutex
	sent   []Sent
	nextID int

	FailChannel bool
	FailDM      bool
	// FailThreads makes only thread-targeted sends fail, for testing
	// thread-first fallback.
	FailThreads bool
}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Ready(ctx context.Context) error { return nil }

func (a *Adapter) SendChannel(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailChannel || (a.FailThreads && to.ThreadID != 0) {
		return kit.MessageRef{}, errors.New("send failed")
	}
	a.nextID++
	a.sent = append(a.sent, Sent{Target: to, Text: text})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}, nil
}

func (a *Adapter) SendDM(ctx context.Context, userID int64, text string) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailDM {
		return kit.MessageRef{}, errors.New("dm failed")
	}
	a.nextID++
	a.sent = append(a.sent, Sent{UserID: userID, Text: text})
	return kit.MessageRef{ChatID: userID, MessageID: a.nextID}, nil
}

func (a *Adapter) FetchChannel(ctx context.Context, chatID int64) (kit.ChannelInfo, error) {
	return kit.ChannelInfo{ChatID: chatID}, nil
}

func (a *Adapter) Stop(ctx context.Context) error { return nil }

// Messages returns a copy of everything sent so far.
func (a *Adapter) Messages() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}
