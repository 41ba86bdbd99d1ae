package telegram

import (
	"context"
	"log/slog"
	"strings"

	"locbot/internal/events"
	"locbot/internal/models"
	"locbot/internal/observability"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const pollTimeout = 30

// Dispatch converts one update into events for h. Updates carrying neither a
// callback nor a command are ignored and reported as false.
func Dispatch(ctx context.Context, update tgbotapi.Update, h events.Handler) bool {
	if cb, ok := CallbackFromUpdate(update); ok {
		h.HandleCallback(ctx, cb)
		return true
	}
	if cmd, ok := CommandFromUpdate(update); ok {
		h.HandleCommand(ctx, cmd)
		return true
	}
	return false
}

// CallbackFromUpdate extracts a button press.
func CallbackFromUpdate(update tgbotapi.Update) (events.Callback, bool) {
	q := update.CallbackQuery
	if q == nil {
		return events.Callback{}, false
	}
	cb := events.Callback{ID: q.ID, Data: q.Data}
	if q.From != nil {
		cb.FromID = q.From.ID
		cb.FromName = displayName(q.From)
	}
	if q.Message != nil && q.Message.Chat != nil {
		cb.Origin = models.NotificationHandle{ChatID: q.Message.Chat.ID, MessageID: q.Message.MessageID}
	}
	return cb, true
}

// CommandFromUpdate extracts a slash command such as "/status@locbot".
func CommandFromUpdate(update tgbotapi.Update) (events.Command, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return events.Command{}, false
	}
	cmd := events.Command{
		ChatID: msg.Chat.ID,
		Name:   strings.ToLower(msg.Command()),
		Args:   strings.TrimSpace(msg.CommandArguments()),
	}
	if msg.From != nil {
		cmd.FromID = msg.From.ID
	}
	return cmd, true
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return "moderator"
	}
	return name
}

// PollingSource reads updates with getUpdates long polling.
type PollingSource struct {
	bot *tgbotapi.BotAPI
}

// Polling returns a long-polling event source for c.
func (c *Client) Polling() *PollingSource {
	return &PollingSource{bot: c.bot}
}

// Run blocks until ctx is cancelled, handing each update to h in its own goroutine.
func (p *PollingSource) Run(ctx context.Context, h events.Handler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	cfg.AllowedUpdates = []string{"message", "callback_query"}

	updates := p.bot.GetUpdatesChan(cfg)
	defer p.bot.StopReceivingUpdates()

	observability.GlobalLogger.InfoContext(ctx, "telegram polling started",
		slog.String("bot", p.bot.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			go Dispatch(ctx, update, h)
		}
	}
}
