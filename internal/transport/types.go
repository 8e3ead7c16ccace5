package transport

import "context"

// ChatTarget addresses a channel on the messaging platform.
// ThreadID selects a forum topic / thread inside the channel (0 if none).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// ChannelInfo is the cached handle for a resolved channel.
type ChannelInfo struct {
	ChatID int64
	Title  string
	Type   string
}

// Adapter is the outbound messaging surface the engine depends on.
//
// Implementations must return errors instead of panicking; callers treat
// delivery failures as non-fatal and never roll back state transitions
// because of them.
type Adapter interface {
	// Ready verifies the platform client is usable. App construction
	// aborts if this fails: no jobs are registered against a broken
	// messaging dependency.
	Ready(ctx context.Context) error

	SendChannel(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendDM(ctx context.Context, userID int64, text string) (MessageRef, error)

	// FetchChannel resolves a channel handle, caching the result.
	FetchChannel(ctx context.Context, chatID int64) (ChannelInfo, error)

	Stop(ctx context.Context) error
}
