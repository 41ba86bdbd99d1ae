package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"locbot/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu        sync.Mutex
	callbacks []events.Callback
	commands  []events.Command
}

func (h *recordingHandler) HandleCallback(_ context.Context, cb events.Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, cb)
}

func (h *recordingHandler) HandleCommand(_ context.Context, cmd events.Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)
}

func (h *recordingHandler) callbackCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.callbacks)
}

func callbackUpdate(updateID int, data string) string {
	return fmt.Sprintf(`{
		"update_id": %d,
		"callback_query": {
			"id": "cb-%d",
			"from": {"id": 4242, "is_bot": false, "first_name": "Ana", "username": "ana_mod"},
			"message": {"message_id": 77, "date": 0, "chat": {"id": 4242, "type": "private"}},
			"chat_instance": "x",
			"data": %q
		}
	}`, updateID, updateID, data)
}

func webhookRequest(body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(webhookHeader, secret)
	}
	return req
}

func TestTelegramWebhook_RejectsBadSecret(t *testing.T) {
	env := newTestEnv(t)

	for _, secret := range []string{"", "wrong"} {
		resp, _ := env.do(t, webhookRequest(callbackUpdate(1, "approve:r1"), secret))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestTelegramWebhook_DisabledWithoutQueue(t *testing.T) {
	env := newTestEnv(t, withDeps(func(d *Deps) { d.Webhook = nil }))

	resp, _ := env.do(t, webhookRequest(callbackUpdate(1, "approve:r1"), testWebhookSecret))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTelegramWebhook_MalformedPayload(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, webhookRequest(`{"update_id": "nope"`, testWebhookSecret))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTelegramWebhook_IgnoresPlainMessages(t *testing.T) {
	env := newTestEnv(t)

	body := `{"update_id": 5, "message": {"message_id": 1, "date": 0, "chat": {"id": 9, "type": "private"}, "text": "hola"}}`
	resp, _ := env.do(t, webhookRequest(body, testWebhookSecret))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Nothing was queued, so the single slot is still free.
	require.NoError(t, env.queue.PushCommand(events.Command{Name: "status"}))
}

func TestTelegramWebhook_DeduplicatesAndRequeuesWhenFull(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, webhookRequest(callbackUpdate(100, "approve:r1"), testWebhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A redelivery of the same update is acknowledged without queueing.
	resp, _ = env.do(t, webhookRequest(callbackUpdate(100, "approve:r1"), testWebhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The one-slot queue is full, so Telegram is asked to retry.
	resp, body := env.do(t, webhookRequest(callbackUpdate(101, "reject:r2"), testWebhookSecret))
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "UNAVAILABLE", body["code"])

	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.queue.Run(ctx, h) }()

	require.Eventually(t, func() bool { return h.callbackCount() == 1 }, time.Second, 5*time.Millisecond)

	resp, _ = env.do(t, webhookRequest(callbackUpdate(101, "reject:r2"), testWebhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return h.callbackCount() == 2 }, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, "approve:r1", h.callbacks[0].Data)
	assert.Equal(t, "reject:r2", h.callbacks[1].Data)
	assert.Equal(t, int64(4242), h.callbacks[1].FromID)
}

func TestTelegramWebhook_QueuesCommands(t *testing.T) {
	env := newTestEnv(t)

	body := `{"update_id": 7, "message": {"message_id": 3, "date": 0,
		"chat": {"id": 4242, "type": "private"}, "from": {"id": 4242, "is_bot": false, "first_name": "Ana"},
		"text": "/Estado", "entities": [{"type": "bot_command", "offset": 0, "length": 7}]}}`
	resp, _ := env.do(t, webhookRequest(body, testWebhookSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	h := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.queue.Run(ctx, h) }()

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.commands) == 1
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, "estado", h.commands[0].Name)
	assert.Equal(t, int64(4242), h.commands[0].ChatID)
}
