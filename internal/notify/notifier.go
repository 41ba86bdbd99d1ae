package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"locbot/internal/models"
	"locbot/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// Status is the outcome of a best-effort chat delivery.
type Status string

const (
	// StatusDelivered means the chat accepted the message.
	StatusDelivered Status = "delivered"
	// StatusDegraded means the message was sent but its handle could not be kept.
	StatusDegraded Status = "degraded"
	// StatusFailed means the transport rejected the call.
	StatusFailed Status = "failed"
	// StatusSkipped means there was nothing to send or nowhere to send it.
	StatusSkipped Status = "skipped"
)

// NotifyResult reports how posting a new request went.
type NotifyResult struct {
	Status Status
	Handle models.NotificationHandle
	Err    error
}

// EditResult reports how rewriting a posted message went.
type EditResult struct {
	Status Status
	Err    error
}

// Options configure a Notifier.
type Options struct {
	ChatID  int64
	Timeout time.Duration
}

// Notifier sends moderation messages. Failures are logged and counted, never retried.
type Notifier struct {
	channel  Channel
	handles  HandleStore
	renderer *Renderer
	chatID   int64
	timeout  time.Duration
}

// New creates a notifier posting to opts.ChatID.
func New(channel Channel, handles HandleStore, renderer *Renderer, opts Options) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if renderer == nil {
		renderer = NewRenderer(nil, nil)
	}
	return &Notifier{
		channel:  channel,
		handles:  handles,
		renderer: renderer,
		chatID:   opts.ChatID,
		timeout:  opts.Timeout,
	}
}

// Renderer exposes the texts used by this notifier.
func (n *Notifier) Renderer() *Renderer {
	return n.renderer
}

// ChatID is the moderation chat.
func (n *Notifier) ChatID() int64 {
	return n.chatID
}

// Notify posts req to the moderation chat and stores the message handle on success.
func (n *Notifier) Notify(ctx context.Context, req models.PendingRequest) NotifyResult {
	if n.channel == nil || n.chatID == 0 {
		observability.NotificationsTotal.WithLabelValues("notify", string(StatusSkipped)).Inc()
		return NotifyResult{Status: StatusSkipped}
	}

	span, ctx := observability.TraceChatOperation(ctx, "sendMessage")
	defer span.End()
	span.AddAttributes(attribute.String("request.id", req.ID))

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	handle, err := n.channel.Send(ctx, n.renderer.Request(req, n.chatID))
	if err != nil {
		span.SetError(err)
		observability.NotificationsTotal.WithLabelValues("notify", string(StatusFailed)).Inc()
		observability.GlobalLogger.WarnContext(ctx, "failed to notify moderator",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
		return NotifyResult{Status: StatusFailed, Err: err}
	}

	status := StatusDelivered
	if n.handles != nil && !n.handles.SetNotification(req.ID, handle) {
		// Decided or evicted while the send was in flight.
		status = StatusDegraded
		observability.GlobalLogger.WarnContext(ctx, "notification handle not stored",
			slog.String("request_id", req.ID),
			slog.String("handle", handle.String()),
		)
	}
	observability.NotificationsTotal.WithLabelValues("notify", string(status)).Inc()
	return NotifyResult{Status: status, Handle: handle}
}

// Edit replaces the message behind handle with text. Repeating an edit is a success.
func (n *Notifier) Edit(ctx context.Context, handle models.NotificationHandle, text string) EditResult {
	if n.channel == nil || !handle.Valid() {
		observability.NotificationsTotal.WithLabelValues("edit", string(StatusSkipped)).Inc()
		return EditResult{Status: StatusSkipped}
	}

	span, ctx := observability.TraceChatOperation(ctx, "editMessageText")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err := n.channel.Edit(ctx, handle, text)
	if err != nil && !errors.Is(err, ErrNotModified) {
		span.SetError(err)
		observability.NotificationsTotal.WithLabelValues("edit", string(StatusFailed)).Inc()
		observability.GlobalLogger.WarnContext(ctx, "failed to edit moderation message",
			slog.String("handle", handle.String()),
			slog.String("error", err.Error()),
		)
		return EditResult{Status: StatusFailed, Err: err}
	}
	observability.NotificationsTotal.WithLabelValues("edit", string(StatusDelivered)).Inc()
	return EditResult{Status: StatusDelivered}
}

// Reply sends a plain message without buttons, used for command answers.
func (n *Notifier) Reply(ctx context.Context, chatID int64, text string) error {
	if n.channel == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	_, err := n.channel.Send(ctx, OutgoingMessage{ChatID: chatID, Text: text})
	if err != nil {
		observability.NotificationsTotal.WithLabelValues("reply", string(StatusFailed)).Inc()
		return err
	}
	observability.NotificationsTotal.WithLabelValues("reply", string(StatusDelivered)).Inc()
	return nil
}
