package callback

import (
	"context"
	"log/slog"
	"time"

	"locbot/internal/events"
	"locbot/internal/models"
	"locbot/internal/notify"
	"locbot/internal/observability"
)

// Replier sends command answers.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
	Renderer() *notify.Renderer
}

// PendingLister exposes the requests awaiting a decision.
type PendingLister interface {
	Pending() []models.PendingRequest
	PendingCount() int
}

// SyncStatus reports when the shared document was last confirmed.
type SyncStatus interface {
	LastSync() time.Time
}

// UnpublishedCounter counts approvals not yet confirmed in the shared document.
type UnpublishedCounter interface {
	CountUnpublished(ctx context.Context) (int64, error)
}

// Commands answers slash commands. Only the moderator gets operational data.
type Commands struct {
	replier     Replier
	pending     PendingLister
	sync        SyncStatus
	unpublished UnpublishedCounter
	moderatorID int64
}

// NewCommands creates the command handler. sync and unpublished may be nil.
func NewCommands(replier Replier, pending PendingLister, sync SyncStatus, unpublished UnpublishedCounter, moderatorID int64) *Commands {
	return &Commands{
		replier:     replier,
		pending:     pending,
		sync:        sync,
		unpublished: unpublished,
		moderatorID: moderatorID,
	}
}

const (
	publicGreeting = "👋 ¡Hola! Soy el bot de ubicaciones.\n\n📍 Solo los moderadores pueden usar este bot."
	adminGreeting  = "👑 <b>MODO MODERADOR</b>\n\n" +
		"🔔 Recibirás las nuevas solicitudes en este chat.\n" +
		"Usa los botones de cada mensaje para aprobar o rechazar.\n\n" +
		"/status · /lista · /paises"
	unknownCommand = "🤔 Comando desconocido. Prueba /status, /lista o /paises."
)

// Handle answers cmd in the chat it came from.
func (c *Commands) Handle(ctx context.Context, cmd events.Command) {
	text := c.answer(ctx, cmd)
	if err := c.replier.Reply(ctx, cmd.ChatID, text); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to answer command",
			slog.String("command", cmd.Name),
			slog.Int64("chat_id", cmd.ChatID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Commands) answer(ctx context.Context, cmd events.Command) string {
	if c.moderatorID == 0 || (cmd.ChatID != c.moderatorID && cmd.FromID != c.moderatorID) {
		return publicGreeting
	}

	r := c.replier.Renderer()
	switch cmd.Name {
	case "start", "help", "ayuda":
		return adminGreeting
	case "status", "estado":
		return r.Status(c.pending.PendingCount(), c.lastSync(), c.countUnpublished(ctx))
	case "lista", "list":
		return r.PendingList(c.pending.Pending())
	case "paises", "countries":
		return r.Countries()
	default:
		return unknownCommand
	}
}

func (c *Commands) lastSync() time.Time {
	if c.sync == nil {
		return time.Time{}
	}
	return c.sync.LastSync()
}

func (c *Commands) countUnpublished(ctx context.Context) int64 {
	if c.unpublished == nil {
		return 0
	}
	n, err := c.unpublished.CountUnpublished(ctx)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to count unpublished approvals", slog.String("error", err.Error()))
		return 0
	}
	return n
}
