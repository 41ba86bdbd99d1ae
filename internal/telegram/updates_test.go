package telegram

import (
	"context"
	"encoding/json"
	"testing"

	"locbot/internal/events"
	"locbot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureHandler struct {
	callbacks []events.Callback
	commands  []events.Command
}

func (h *captureHandler) HandleCallback(_ context.Context, cb events.Callback) {
	h.callbacks = append(h.callbacks, cb)
}

func (h *captureHandler) HandleCommand(_ context.Context, cmd events.Command) {
	h.commands = append(h.commands, cmd)
}

func decodeUpdate(t *testing.T, raw string) tgbotapi.Update {
	t.Helper()
	var u tgbotapi.Update
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return u
}

func TestDispatch_Callback(t *testing.T) {
	u := decodeUpdate(t, `{
		"update_id": 10,
		"callback_query": {
			"id": "cb-1",
			"from": {"id": 42, "is_bot": false, "first_name": "Ana", "username": "ana_mod"},
			"message": {"message_id": 77, "date": 0, "chat": {"id": -1001, "type": "group"}},
			"chat_instance": "x",
			"data": "approve:r1"
		}
	}`)

	h := &captureHandler{}
	assert.True(t, Dispatch(context.Background(), u, h))
	require.Len(t, h.callbacks, 1)
	assert.Equal(t, events.Callback{
		ID: "cb-1", Data: "approve:r1", FromID: 42, FromName: "@ana_mod",
		Origin: models.NotificationHandle{ChatID: -1001, MessageID: 77},
	}, h.callbacks[0])
}

func TestDispatch_Command(t *testing.T) {
	u := decodeUpdate(t, `{
		"update_id": 11,
		"message": {
			"message_id": 5, "date": 0,
			"from": {"id": 42, "is_bot": false, "first_name": "Ana"},
			"chat": {"id": 42, "type": "private"},
			"text": "/Status@locbot_test now",
			"entities": [{"type": "bot_command", "offset": 0, "length": 19}]
		}
	}`)

	h := &captureHandler{}
	assert.True(t, Dispatch(context.Background(), u, h))
	require.Len(t, h.commands, 1)
	assert.Equal(t, events.Command{ChatID: 42, FromID: 42, Name: "status", Args: "now"}, h.commands[0])
}

func TestDispatch_IgnoresPlainMessages(t *testing.T) {
	u := decodeUpdate(t, `{"update_id": 12, "message": {"message_id": 6, "date": 0, "chat": {"id": 1, "type": "private"}, "text": "hola"}}`)

	h := &captureHandler{}
	assert.False(t, Dispatch(context.Background(), u, h))
	assert.Empty(t, h.callbacks)
	assert.Empty(t, h.commands)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ana López", displayName(&tgbotapi.User{FirstName: "Ana", LastName: "López"}))
	assert.Equal(t, "moderator", displayName(&tgbotapi.User{}))
}
