package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"locbot/internal/docstore"
	"locbot/internal/featureflags"
	"locbot/internal/models"
	"locbot/internal/notify"
	"locbot/internal/registry"
	"locbot/internal/scheduler"
	"locbot/internal/testutil"
	"locbot/internal/validation"
	appmodels "locbot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const moderatorChat int64 = 4242

// appenderFunc is a stub for Appender.
type appenderFunc func(ctx context.Context, loc models.Location) (docstore.Result, error)

func (f appenderFunc) Append(ctx context.Context, loc models.Location) (docstore.Result, error) {
	return f(ctx, loc)
}

type harness struct {
	registry *registry.Registry
	channel  *testutil.ChannelStub
	ledger   *testutil.LocationRepoStub
	notifier *notify.Notifier
	intake   *IntakeService
	approval *ApprovalService
}

func newHarness(t *testing.T, appender Appender) *harness {
	t.Helper()
	h := &harness{
		registry: registry.New(registry.Options{}),
		channel:  testutil.NewChannelStub(),
		ledger:   testutil.NewLocationRepoStub(),
	}
	renderer := notify.NewRenderer(nil, featureflags.NewManager("map_link=on,copy_coords=on"))
	h.notifier = notify.New(h.channel, h.registry, renderer, notify.Options{ChatID: moderatorChat, Timeout: time.Second})
	h.intake = NewIntakeService(validation.NewValidator(nil), h.registry, h.notifier, time.Second)
	h.approval = NewApprovalService(h.registry, h.ledger, appender, h.notifier)
	return h
}

func syncerFor(store docstore.Store) *docstore.Synchronizer {
	return docstore.NewSynchronizer(store, docstore.SyncOptions{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Timeout:         time.Second,
	})
}

func parqueX() appmodels.SubmissionRequest {
	lat, lon := 14.1, -87.2
	return appmodels.SubmissionRequest{
		Name: "Parque X", Lat: &lat, Lon: &lon,
		Municipio: "Tegucigalpa", Departamento: "Francisco Morazán", Type: "parque",
	}
}

func (h *harness) submit(t *testing.T, in appmodels.SubmissionRequest) string {
	t.Helper()
	id, err := h.intake.Submit(context.Background(), in)
	require.NoError(t, err)
	h.intake.Wait()
	return id
}

func decode(t *testing.T, content []byte) *models.Document {
	t.Helper()
	doc, err := models.DecodeDocument(content)
	require.NoError(t, err)
	return doc
}

func TestSubmit_RegistersAndNotifies(t *testing.T) {
	h := newHarness(t, nil)

	id := h.submit(t, parqueX())
	require.NotEmpty(t, id)

	req, ok := h.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, models.PersistenceNone, req.Persistence)
	assert.Equal(t, "HN", req.Country)
	assert.True(t, req.Notification.Valid(), "handle stored after delivery")

	sent := h.channel.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, moderatorChat, sent[0].ChatID)
	assert.Contains(t, sent[0].Text, "Parque X")
}

func TestSubmit_ValidationError(t *testing.T) {
	h := newHarness(t, nil)
	in := parqueX()
	in.Lat = nil

	_, err := h.intake.Submit(context.Background(), in)
	require.Error(t, err)
	assert.True(t, appmodels.HasCode(err, appmodels.CodeValidation))
	assert.Equal(t, 0, h.registry.PendingCount())
	h.intake.Wait()
	assert.Empty(t, h.channel.Calls())
}

func TestSubmit_NotifyFailureStillAccepts(t *testing.T) {
	h := newHarness(t, nil)
	h.channel.SendErr = errors.New("Too Many Requests: retry after 5")

	id := h.submit(t, parqueX())
	req, ok := h.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.False(t, req.Notification.Valid())
}

func TestSubmit_UniqueIDs(t *testing.T) {
	h := newHarness(t, nil)
	const n = 300

	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := h.intake.Submit(context.Background(), testutil.FakeSubmission())
			if assert.NoError(t, err) {
				ids <- id
			}
		}()
	}
	wg.Wait()
	h.intake.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, h.registry.PendingCount())
}

func TestSubmit_RegistryFull(t *testing.T) {
	h := newHarness(t, nil)
	h.registry = registry.New(registry.Options{MaxEntries: 1})
	h.intake = NewIntakeService(validation.NewValidator(nil), h.registry, nil, time.Second)

	_, err := h.intake.Submit(context.Background(), parqueX())
	require.NoError(t, err)
	_, err = h.intake.Submit(context.Background(), parqueX())
	assert.True(t, appmodels.HasCode(err, appmodels.CodeUnavailable))
}

func TestDecide_ApproveParqueX(t *testing.T) {
	store := docstore.NewMemoryStore(nil)
	h := newHarness(t, syncerFor(store))
	id := h.submit(t, parqueX())
	stored, _ := h.registry.Get(id)

	d, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: models.RequestStatusApproved, Actor: "@ana"})
	require.NoError(t, err)
	assert.True(t, d.Applied)
	assert.Equal(t, models.RequestStatusApproved, d.Status)
	assert.Equal(t, models.PersistencePersisted, d.Persistence)
	assert.Equal(t, "@ana", d.DecidedBy)
	assert.False(t, d.DecidedAt.IsZero())
	assert.Equal(t, notify.StatusDelivered, d.Edit)

	doc := decode(t, store.Content())
	locs, err := doc.Locations()
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, models.LocationID(id), locs[0].ID)
	assert.Equal(t, "Parque X", locs[0].Name)
	assert.True(t, locs[0].Approved)
	assert.Equal(t, models.Statistics{TotalLocations: 1, ApprovedLocations: 1}, doc.Statistics)

	req, _ := h.registry.Get(id)
	assert.Equal(t, models.PersistencePersisted, req.Persistence)

	row, err := h.ledger.GetByID(context.Background(), models.LocationID(id))
	require.NoError(t, err)
	assert.NotNil(t, row.PublishedAt)

	edits := h.channel.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, stored.Notification, edits[0].Handle)
	assert.Contains(t, edits[0].Text, "APROBADO")
}

func TestDecide_DoubleApproveIsNoop(t *testing.T) {
	store := docstore.NewMemoryStore(nil)
	h := newHarness(t, syncerFor(store))
	id := h.submit(t, parqueX())
	in := DecideInput{RequestID: id, Verdict: models.RequestStatusApproved, Actor: "@ana"}

	first, err := h.approval.Decide(context.Background(), in)
	require.NoError(t, err)
	second, err := h.approval.Decide(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, first.Applied)
	assert.False(t, second.Applied)
	assert.Equal(t, first.DecidedAt, second.DecidedAt)
	assert.Equal(t, models.RequestStatusApproved, second.Status)
	assert.Equal(t, 1, store.Writes())
	assert.Equal(t, 1, decode(t, store.Content()).Len())
	assert.Len(t, h.channel.Edits(), 1)
}

func TestDecide_RejectAfterApproveKeepsApproval(t *testing.T) {
	var appends atomic.Int32
	h := newHarness(t, appenderFunc(func(context.Context, models.Location) (docstore.Result, error) {
		appends.Add(1)
		return docstore.Result{Added: 1, Attempts: 1}, nil
	}))
	id := h.submit(t, parqueX())

	_, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: models.RequestStatusApproved, Actor: "a"})
	require.NoError(t, err)
	d, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: models.RequestStatusRejected, Actor: "b"})
	require.NoError(t, err)

	assert.False(t, d.Applied)
	assert.Equal(t, models.RequestStatusApproved, d.Status)
	assert.Equal(t, "a", d.DecidedBy)
	assert.EqualValues(t, 1, appends.Load())
}

func TestDecide_ConflictTwiceThenSuccess(t *testing.T) {
	seed := []byte(`{"locations":[{"id":"loc_seed","name":"Seed","approved":true}],"lastUpdated":"","statistics":{"totalLocations":1,"approvedLocations":1,"pendingLocations":0}}`)
	store := testutil.NewRacingStore(seed, 2)
	h := newHarness(t, syncerFor(store))
	id := h.submit(t, parqueX())

	d, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: models.RequestStatusApproved, Actor: "@ana"})
	require.NoError(t, err)
	assert.Equal(t, models.PersistencePersisted, d.Persistence)
	assert.Equal(t, 3, store.WriteCalls())

	doc := decode(t, store.Content())
	ids := doc.IDs()
	for _, want := range []string{"loc_seed", "loc_competitor_1", "loc_competitor_2", models.LocationID(id)} {
		assert.Contains(t, ids, want)
	}
	assert.Len(t, ids, 4)
	assert.Equal(t, models.Statistics{TotalLocations: 4, ApprovedLocations: 4}, doc.Statistics)
}

func TestDecide_PersistenceFailureKeepsApproval(t *testing.T) {
	h := newHarness(t, appenderFunc(func(context.Context, models.Location) (docstore.Result, error) {
		return docstore.Result{Attempts: 5}, appmodels.NewConflictError(5, docstore.ErrVersionMismatch)
	}))
	id := h.submit(t, parqueX())

	d, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: models.RequestStatusApproved, Actor: "@ana"})
	require.NoError(t, err)
	assert.True(t, d.Applied)
	assert.Equal(t, models.RequestStatusApproved, d.Status)
	assert.Equal(t, models.PersistencePending, d.Persistence)

	req, _ := h.registry.Get(id)
	assert.Equal(t, models.RequestStatusApproved, req.Status)
	assert.Equal(t, models.PersistencePending, req.Persistence)

	unpublished, err := h.ledger.ListUnpublished(context.Background())
	require.NoError(t, err)
	require.Len(t, unpublished, 1)
	assert.Equal(t, models.LocationID(id), unpublished[0].ID)

	edits := h.channel.Edits()
	require.Len(t, edits, 1)
	assert.Contains(t, edits[0].Text, "Pendiente de sincronizar")
}

func TestDecide_LedgerAndDocumentFailureHealedByReconciler(t *testing.T) {
	store := docstore.NewMemoryStore(nil)
	syncer := syncerFor(store)
	var down atomic.Bool
	down.Store(true)
	h := newHarness(t, appenderFunc(func(ctx context.Context, loc models.Location) (docstore.Result, error) {
		if down.Load() {
			return docstore.Result{Attempts: 1}, appmodels.NewTransportError("fetch shared document", errors.New("502 bad gateway"))
		}
		return syncer.Append(ctx, loc)
	}))
	h.ledger.RecordErr = errors.New("database is locked")
	id := h.submit(t, parqueX())

	d, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: models.RequestStatusApproved, Actor: "@ana"})
	require.NoError(t, err)
	assert.Equal(t, models.PersistencePending, d.Persistence)
	_, err = h.ledger.GetByID(context.Background(), models.LocationID(id))
	require.Error(t, err)

	h.ledger.RecordErr = nil
	down.Store(false)
	r := scheduler.NewReconciler(h.ledger, syncer, scheduler.Options{Approvals: h.registry})
	report, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Backfilled)

	doc := decode(t, store.Content())
	assert.True(t, doc.Contains(models.LocationID(id)))

	req, _ := h.registry.Get(id)
	assert.Equal(t, models.PersistencePersisted, req.Persistence)

	row, err := h.ledger.GetByID(context.Background(), models.LocationID(id))
	require.NoError(t, err)
	assert.NotNil(t, row.PublishedAt)
	assert.Equal(t, "@ana", row.ApprovedBy)
}

func TestDecide_Reject(t *testing.T) {
	h := newHarness(t, appenderFunc(func(context.Context, models.Location) (docstore.Result, error) {
		t.Fatal("reject must not touch the shared document")
		return docstore.Result{}, nil
	}))
	id := h.submit(t, parqueX())

	d, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: models.RequestStatusRejected, Actor: "@ana"})
	require.NoError(t, err)
	assert.True(t, d.Applied)
	assert.Equal(t, models.RequestStatusRejected, d.Status)
	assert.Equal(t, models.PersistenceNone, d.Persistence)

	list, err := h.ledger.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Contains(t, h.channel.Edits()[0].Text, "RECHAZADO")
}

func TestDecide_UnknownID(t *testing.T) {
	store := docstore.NewMemoryStore(nil)
	h := newHarness(t, syncerFor(store))

	_, err := h.approval.Decide(context.Background(), DecideInput{RequestID: "nope", Verdict: models.RequestStatusApproved, Actor: "@ana"})
	require.Error(t, err)
	assert.True(t, appmodels.HasCode(err, appmodels.CodeNotFound))
	assert.Equal(t, 0, store.Writes())
	assert.Empty(t, h.channel.Calls())
}

func TestDecide_InvalidVerdict(t *testing.T) {
	h := newHarness(t, nil)
	id := h.submit(t, parqueX())

	_, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: models.RequestStatusPending})
	assert.True(t, appmodels.HasCode(err, appmodels.CodeValidation))
}

func TestDecide_EditFallsBackToOrigin(t *testing.T) {
	h := newHarness(t, appenderFunc(func(context.Context, models.Location) (docstore.Result, error) {
		return docstore.Result{Added: 1, Attempts: 1}, nil
	}))
	h.channel.SendErr = errors.New("timeout")
	id := h.submit(t, parqueX())
	h.channel.SendErr = nil

	origin := models.NotificationHandle{ChatID: moderatorChat, MessageID: 9}
	d, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: models.RequestStatusRejected, Actor: "@ana", Origin: origin})
	require.NoError(t, err)
	assert.Equal(t, notify.StatusDelivered, d.Edit)
	assert.Equal(t, origin, h.channel.Edits()[0].Handle)
}

func TestDecide_ConcurrentCallbacksApplyOnce(t *testing.T) {
	store := docstore.NewMemoryStore(nil)
	h := newHarness(t, syncerFor(store))
	id := h.submit(t, parqueX())

	const callers = 25
	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdict := models.RequestStatusApproved
			if i%2 == 1 {
				verdict = models.RequestStatusRejected
			}
			d, err := h.approval.Decide(context.Background(), DecideInput{RequestID: id, Verdict: verdict, Actor: fmt.Sprintf("mod-%d", i)})
			if assert.NoError(t, err) && d.Applied {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, applied.Load())
	assert.LessOrEqual(t, store.Writes(), 1)
	assert.Len(t, h.channel.Edits(), 1)

	req, _ := h.registry.Get(id)
	if req.Status == models.RequestStatusApproved {
		assert.Equal(t, 1, decode(t, store.Content()).Len())
	} else {
		assert.Equal(t, 0, store.Writes())
	}
}
