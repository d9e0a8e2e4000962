package transport

import "context"

// ChatTarget addresses a chat (and optionally a forum thread).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

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

// Sender delivers plain text messages to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Channel is a named Sender, e.g. "telegram".
type Channel interface {
	Sender
	Name() string
}
