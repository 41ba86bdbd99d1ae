// Package events carries inbound chat activity from a transport (long polling
// or webhook) to the handlers that act on it.
package events

import (
	"context"

	"locbot/internal/models"
)

// Callback is a button press on a moderation message.
type Callback struct {
	ID       string
	Data     string
	FromID   int64
	FromName string
	// Origin is the message the button belongs to; zero when Telegram omits it.
	Origin models.NotificationHandle
}

// Command is a slash command sent to the bot, e.g. "/status".
type Command struct {
	ChatID int64
	FromID int64
	Name   string
	Args   string
}

// Handler consumes events. Implementations must be safe for concurrent use.
type Handler interface {
	HandleCallback(ctx context.Context, cb Callback)
	HandleCommand(ctx context.Context, cmd Command)
}

// Source produces events until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, h Handler) error
}
