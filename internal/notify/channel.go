// Package notify posts moderation requests to the moderator chat and rewrites
// them once a decision is made.
package notify

import (
	"context"
	"errors"

	"locbot/internal/models"
)

// ErrNotModified is returned by Channel.Edit when the message already shows the text.
var ErrNotModified = errors.New("message is not modified")

// Button is an inline affordance. Exactly one of Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// OutgoingMessage is an HTML-formatted chat message.
type OutgoingMessage struct {
	ChatID  int64
	Text    string
	Buttons [][]Button
}

// Channel is the chat transport.
type Channel interface {
	Send(ctx context.Context, msg OutgoingMessage) (models.NotificationHandle, error)
	// Edit replaces the text of a posted message and removes its buttons.
	Edit(ctx context.Context, handle models.NotificationHandle, text string) error
}

// HandleStore remembers which message belongs to which request.
type HandleStore interface {
	SetNotification(id string, handle models.NotificationHandle) bool
}
