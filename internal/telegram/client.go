// Package telegram adapts the Telegram Bot API to the notify and events interfaces.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"locbot/internal/models"
	"locbot/internal/notify"
	appmodels "locbot/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Options configure the bot client.
type Options struct {
	Token string
	// Endpoint overrides the API URL; it must contain two %s verbs (token, method).
	Endpoint string
	Timeout  time.Duration
}

// Client is a Telegram bot. It implements notify.Channel.
type Client struct {
	bot *tgbotapi.BotAPI
}

// NewClient authenticates with getMe. A rejected token is a configuration error.
func NewClient(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, appmodels.NewConfigurationError("TELEGRAM_BOT_TOKEN is required")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Long polling holds requests open for up to the poll timeout.
	client := &http.Client{Timeout: timeout + pollTimeout*time.Second}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
			return nil, appmodels.NewConfigurationError("TELEGRAM_BOT_TOKEN was rejected")
		}
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}
	return &Client{bot: bot}, nil
}

// Username is the bot's @handle.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// Send posts an HTML message with optional inline buttons.
func (c *Client) Send(ctx context.Context, msg notify.OutgoingMessage) (models.NotificationHandle, error) {
	cfg := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.DisableWebPagePreview = true
	if len(msg.Buttons) > 0 {
		cfg.ReplyMarkup = keyboard(msg.Buttons)
	}

	var sent tgbotapi.Message
	err := withContext(ctx, func() error {
		var err error
		sent, err = c.bot.Send(cfg)
		return err
	})
	if err != nil {
		return models.NotificationHandle{}, fmt.Errorf("telegram sendMessage: %w", err)
	}

	chatID := msg.ChatID
	if sent.Chat != nil {
		chatID = sent.Chat.ID
	}
	return models.NotificationHandle{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// Edit replaces the message text and clears its keyboard.
func (c *Client) Edit(ctx context.Context, handle models.NotificationHandle, text string) error {
	cfg := tgbotapi.NewEditMessageText(handle.ChatID, handle.MessageID, text)
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.ReplyMarkup = &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}

	err := withContext(ctx, func() error {
		_, err := c.bot.Request(cfg)
		return err
	})
	if err != nil {
		if isNotModified(err) {
			return notify.ErrNotModified
		}
		return fmt.Errorf("telegram editMessageText: %w", err)
	}
	return nil
}

// Answer acknowledges a callback query, optionally as a modal alert.
func (c *Client) Answer(ctx context.Context, callbackID, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	cfg.ShowAlert = alert

	err := withContext(ctx, func() error {
		_, err := c.bot.Request(cfg)
		return err
	})
	if err != nil {
		return fmt.Errorf("telegram answerCallbackQuery: %w", err)
	}
	return nil
}

func keyboard(rows [][]notify.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

func isNotModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// withContext runs fn but returns as soon as ctx is done. The bot library has
// no context support, so the call itself is bounded by the HTTP client timeout.
func withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
