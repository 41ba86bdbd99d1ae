package callback

import (
	"context"
	"errors"
	"testing"
	"time"

	"locbot/internal/docstore"
	"locbot/internal/events"
	"locbot/internal/models"
	"locbot/internal/notify"
	"locbot/internal/registry"
	"locbot/internal/service"
	"locbot/internal/testutil"
	appmodels "locbot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const moderatorID int64 = 4242

// deciderFunc is a stub for Decider.
type deciderFunc func(ctx context.Context, in service.DecideInput) (service.Decision, error)

func (f deciderFunc) Decide(ctx context.Context, in service.DecideInput) (service.Decision, error) {
	return f(ctx, in)
}

func proposal() models.Proposal {
	return models.Proposal{
		Name: "Parque X", Lat: 14.1, Lon: -87.2,
		Municipio: "Tegucigalpa", Departamento: "Francisco Morazán", Type: "parque", Country: "HN",
	}
}

func register(t *testing.T, reg *registry.Registry) models.PendingRequest {
	t.Helper()
	req, err := reg.Register(proposal())
	require.NoError(t, err)
	return req
}

func moderatorCallback(data string) events.Callback {
	return events.Callback{
		ID: "cb-1", Data: data, FromID: moderatorID, FromName: "@ana",
		Origin: models.NotificationHandle{ChatID: moderatorID, MessageID: 10},
	}
}

func TestRoute_AcknowledgesBeforeDeciding(t *testing.T) {
	reg := registry.New(registry.Options{})
	req := register(t, reg)
	ch := testutil.NewChannelStub()

	var got service.DecideInput
	decider := deciderFunc(func(_ context.Context, in service.DecideInput) (service.Decision, error) {
		require.Len(t, ch.Answers(), 1, "answered before decide")
		got = in
		return service.Decision{RequestID: in.RequestID, Status: in.Verdict, Applied: true}, nil
	})

	res := NewRouter(ch, decider, reg, moderatorID).Route(context.Background(), moderatorCallback("approve:"+req.ID))
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.True(t, res.Acked)
	assert.Equal(t, events.ActionApprove, res.Action)
	assert.Equal(t, service.DecideInput{
		RequestID: req.ID, Verdict: models.RequestStatusApproved, Actor: "@ana",
		Origin: models.NotificationHandle{ChatID: moderatorID, MessageID: 10},
	}, got)

	answers := ch.Answers()
	require.Len(t, answers, 1)
	assert.Equal(t, "cb-1", answers[0].CallbackID)
	assert.False(t, answers[0].Alert)
}

func TestRoute_Reject(t *testing.T) {
	reg := registry.New(registry.Options{})
	req := register(t, reg)

	var verdict models.RequestStatus
	decider := deciderFunc(func(_ context.Context, in service.DecideInput) (service.Decision, error) {
		verdict = in.Verdict
		return service.Decision{Applied: true, Status: in.Verdict}, nil
	})

	res := NewRouter(testutil.NewChannelStub(), decider, reg, moderatorID).Route(context.Background(), moderatorCallback("reject:"+req.ID))
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, models.RequestStatusRejected, verdict)
}

func TestRoute_Copy(t *testing.T) {
	reg := registry.New(registry.Options{})
	req := register(t, reg)
	ch := testutil.NewChannelStub()
	decider := deciderFunc(func(context.Context, service.DecideInput) (service.Decision, error) {
		t.Fatal("copy must not decide")
		return service.Decision{}, nil
	})

	res := NewRouter(ch, decider, reg, moderatorID).Route(context.Background(), moderatorCallback("copy:"+req.ID))
	assert.Equal(t, OutcomeCopied, res.Outcome)

	answers := ch.Answers()
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Alert)
	assert.Contains(t, answers[0].Text, "14.1, -87.2")

	stored, _ := reg.Get(req.ID)
	assert.Equal(t, models.RequestStatusPending, stored.Status)
}

func TestRoute_RefusesNonModerator(t *testing.T) {
	reg := registry.New(registry.Options{})
	req := register(t, reg)
	ch := testutil.NewChannelStub()
	decider := deciderFunc(func(context.Context, service.DecideInput) (service.Decision, error) {
		t.Fatal("non-moderator must not decide")
		return service.Decision{}, nil
	})

	cb := events.Callback{ID: "cb-2", Data: "approve:" + req.ID, FromID: 7, Origin: models.NotificationHandle{ChatID: 7, MessageID: 1}}
	res := NewRouter(ch, decider, reg, moderatorID).Route(context.Background(), cb)
	assert.Equal(t, OutcomeRefused, res.Outcome)
	assert.True(t, res.Acked)
	assert.Contains(t, ch.Answers()[0].Text, "Solo el moderador")
}

func TestRoute_AcceptsPressInModeratorGroup(t *testing.T) {
	reg := registry.New(registry.Options{})
	req := register(t, reg)
	group := int64(-100555)
	decider := deciderFunc(func(_ context.Context, in service.DecideInput) (service.Decision, error) {
		return service.Decision{Applied: true, Status: in.Verdict}, nil
	})

	cb := events.Callback{ID: "cb", Data: "approve:" + req.ID, FromID: 7, Origin: models.NotificationHandle{ChatID: group, MessageID: 1}}
	res := NewRouter(testutil.NewChannelStub(), decider, reg, group).Route(context.Background(), cb)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestRoute_MalformedToken(t *testing.T) {
	ch := testutil.NewChannelStub()
	for _, data := range []string{"garbage", "delete:abc", ""} {
		res := NewRouter(ch, nil, registry.New(registry.Options{}), moderatorID).Route(context.Background(), moderatorCallback(data))
		assert.Equal(t, OutcomeMalformed, res.Outcome, data)
	}
	assert.Len(t, ch.Answers(), 3, "every callback is acknowledged")
}

func TestRoute_UnknownRequestID(t *testing.T) {
	reg := registry.New(registry.Options{})
	ch := testutil.NewChannelStub()
	store := docstore.NewMemoryStore(nil)
	syncer := docstore.NewSynchronizer(store, docstore.SyncOptions{})
	approval := service.NewApprovalService(reg, testutil.NewLocationRepoStub(), syncer,
		notify.New(ch, reg, nil, notify.Options{ChatID: moderatorID}))

	res := NewRouter(ch, approval, reg, moderatorID).Route(context.Background(), moderatorCallback("approve:does-not-exist"))
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, []string{"answer"}, ch.Calls())
	assert.Contains(t, ch.Answers()[0].Text, "no encontrada")
	assert.Equal(t, 0, store.Writes())
	assert.Equal(t, 0, reg.Stats()[models.RequestStatusApproved])
}

func TestRoute_DoubleApproveEndToEnd(t *testing.T) {
	reg := registry.New(registry.Options{})
	ch := testutil.NewChannelStub()
	store := docstore.NewMemoryStore(nil)
	syncer := docstore.NewSynchronizer(store, docstore.SyncOptions{InitialInterval: time.Millisecond})
	approval := service.NewApprovalService(reg, testutil.NewLocationRepoStub(), syncer,
		notify.New(ch, reg, nil, notify.Options{ChatID: moderatorID}))
	router := NewRouter(ch, approval, reg, moderatorID)
	req := register(t, reg)

	first := router.Route(context.Background(), moderatorCallback("approve:"+req.ID))
	second := router.Route(context.Background(), moderatorCallback("approve:"+req.ID))

	assert.Equal(t, OutcomeApplied, first.Outcome)
	assert.Equal(t, models.PersistencePersisted, first.Decision.Persistence)
	assert.Equal(t, OutcomeNoop, second.Outcome)
	assert.Equal(t, 1, store.Writes())
	assert.Equal(t, "ℹ️ Ya fue aprobada", ch.Answers()[1].Text)
}

func TestRoute_DecideFailureIsReported(t *testing.T) {
	reg := registry.New(registry.Options{})
	req := register(t, reg)
	boom := appmodels.NewInternalError(errors.New("boom"))
	decider := deciderFunc(func(context.Context, service.DecideInput) (service.Decision, error) {
		return service.Decision{}, boom
	})

	res := NewRouter(testutil.NewChannelStub(), decider, reg, moderatorID).Route(context.Background(), moderatorCallback("approve:"+req.ID))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, boom)
}

func TestRoute_AckFailureDoesNotBlockDecision(t *testing.T) {
	reg := registry.New(registry.Options{})
	req := register(t, reg)
	ch := testutil.NewChannelStub()
	ch.AnswerErr = errors.New("query is too old")
	decided := false
	decider := deciderFunc(func(_ context.Context, in service.DecideInput) (service.Decision, error) {
		decided = true
		return service.Decision{Applied: true}, nil
	})

	res := NewRouter(ch, decider, reg, moderatorID).Route(context.Background(), moderatorCallback("approve:"+req.ID))
	assert.False(t, res.Acked)
	assert.True(t, decided)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}
