package server

import (
	"crypto/subtle"
	"errors"

	"locbot/internal/cache"
	"locbot/internal/events"
	"locbot/internal/middleware"
	"locbot/internal/observability"
	"locbot/internal/telegram"
	appmodels "locbot/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
)

const (
	webhookPath   = "/telegram/webhook"
	webhookHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// TelegramWebhook handles POST /telegram/webhook
// @Summary Telegram update delivery
// @Description Accepts Bot API updates pushed by Telegram. Updates are queued and handled asynchronously.
// @Tags telegram
// @Accept json
// @Produce json
// @Param X-Telegram-Bot-Api-Secret-Token header string true "Webhook secret"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /telegram/webhook [post]
func (s *Server) TelegramWebhook(c *fiber.Ctx) error {
	if s.webhook == nil {
		return appmodels.RespondWithError(c, fiber.StatusNotFound,
			appmodels.NewNotFoundError("Route", webhookPath))
	}

	secret := s.config.TelegramWebhookSecret
	if secret == "" || subtle.ConstantTimeCompare([]byte(c.Get(webhookHeader)), []byte(secret)) != 1 {
		observability.WebhookUpdatesTotal.WithLabelValues("unauthorized").Inc()
		return appmodels.RespondWithError(c, fiber.StatusUnauthorized,
			appmodels.NewUnauthorizedError("Invalid webhook secret"))
	}

	var update tgbotapi.Update
	if err := c.BodyParser(&update); err != nil {
		observability.WebhookUpdatesTotal.WithLabelValues("malformed").Inc()
		return appmodels.RespondWithError(c, fiber.StatusBadRequest,
			appmodels.NewValidationError("Invalid update payload"))
	}

	ctx := c.UserContext()
	fresh, err := cache.MarkUpdateSeen(ctx, s.redis, update.UpdateID)
	if err != nil {
		// Without Redis a redelivery is handled twice; decisions stay idempotent.
		middleware.Logger.WarnContext(ctx, "webhook de-duplication unavailable",
			"update_id", update.UpdateID, "error", err)
		fresh = true
	}
	if !fresh {
		observability.WebhookUpdatesTotal.WithLabelValues("duplicate").Inc()
		return c.JSON(fiber.Map{"ok": true})
	}

	if err := s.enqueue(update); err != nil {
		if errors.Is(err, events.ErrQueueFull) {
			// Let Telegram redeliver.
			_ = cache.ForgetUpdate(ctx, s.redis, update.UpdateID)
			observability.WebhookUpdatesTotal.WithLabelValues("dropped").Inc()
			return appmodels.RespondWithError(c, fiber.StatusServiceUnavailable,
				appmodels.NewUnavailableError("update queue is full"))
		}
		return appmodels.RespondWithError(c, fiber.StatusInternalServerError,
			appmodels.NewInternalError(err))
	}

	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) enqueue(update tgbotapi.Update) error {
	if cb, ok := telegram.CallbackFromUpdate(update); ok {
		if err := s.webhook.PushCallback(cb); err != nil {
			return err
		}
		observability.WebhookUpdatesTotal.WithLabelValues("callback").Inc()
		return nil
	}
	if cmd, ok := telegram.CommandFromUpdate(update); ok {
		if err := s.webhook.PushCommand(cmd); err != nil {
			return err
		}
		observability.WebhookUpdatesTotal.WithLabelValues("command").Inc()
		return nil
	}
	observability.WebhookUpdatesTotal.WithLabelValues("ignored").Inc()
	return nil
}
