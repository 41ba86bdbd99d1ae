package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"locbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func proposal(name string) models.Proposal {
	return models.Proposal{
		Name: name, Lat: 14.1, Lon: -87.2,
		Municipio: "Tegucigalpa", Departamento: "Francisco Morazán", Type: "parque", Country: "HN",
	}
}

func TestRegister_UniqueIDs(t *testing.T) {
	r := New(Options{})

	const n = 1000
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := r.Register(proposal("Parque"))
			if assert.NoError(t, err) {
				ids <- req.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, r.PendingCount())
}

func TestRegister_RegeneratesOnCollision(t *testing.T) {
	ids := []string{"same", "same", "other"}
	var i int
	r := New(Options{NewID: func() string {
		id := ids[i]
		i++
		return id
	}})

	first, err := r.Register(proposal("A"))
	require.NoError(t, err)
	second, err := r.Register(proposal("B"))
	require.NoError(t, err)

	assert.Equal(t, "same", first.ID)
	assert.Equal(t, "other", second.ID)
}

func TestRegister_InitialState(t *testing.T) {
	clock := newClock()
	r := New(Options{Now: clock.Now})

	req, err := r.Register(proposal("Parque X"))
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, models.PersistenceNone, req.Persistence)
	assert.Equal(t, clock.Now(), req.ReceivedAt)
	assert.True(t, req.DecidedAt.IsZero())
	assert.False(t, req.Notification.Valid())
}

func TestDecide_Transitions(t *testing.T) {
	r := New(Options{})

	approved, err := r.Register(proposal("A"))
	require.NoError(t, err)
	rejected, err := r.Register(proposal("B"))
	require.NoError(t, err)

	req, applied, err := r.Decide(approved.ID, models.RequestStatusApproved, "42")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.RequestStatusApproved, req.Status)
	assert.Equal(t, "42", req.DecidedBy)
	assert.Equal(t, models.PersistencePending, req.Persistence)

	req, applied, err = r.Decide(rejected.ID, models.RequestStatusRejected, "42")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.PersistenceNone, req.Persistence)

	// Terminal states never flip.
	req, applied, err = r.Decide(approved.ID, models.RequestStatusRejected, "43")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.RequestStatusApproved, req.Status)
	assert.Equal(t, "42", req.DecidedBy)

	_, _, err = r.Decide("missing", models.RequestStatusApproved, "42")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = r.Decide(approved.ID, models.RequestStatusPending, "42")
	assert.ErrorIs(t, err, ErrInvalidVerdict)
}

func TestDecide_ConcurrentCallersApplyOnce(t *testing.T) {
	r := New(Options{})
	req, err := r.Register(proposal("A"))
	require.NoError(t, err)

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdict := models.RequestStatusApproved
			if i%2 == 1 {
				verdict = models.RequestStatusRejected
			}
			_, ok, err := r.Decide(req.ID, verdict, "42")
			assert.NoError(t, err)
			if ok {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	got, ok := r.Get(req.ID)
	require.True(t, ok)
	assert.True(t, got.Status.Terminal())
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New(Options{})
	req, err := r.Register(proposal("A"))
	require.NoError(t, err)

	req.Name = "mutated"
	req.Status = models.RequestStatusRejected

	got, ok := r.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, "A", got.Name)
	assert.Equal(t, models.RequestStatusPending, got.Status)
}

func TestSetNotificationAndPersistence(t *testing.T) {
	r := New(Options{})
	req, err := r.Register(proposal("A"))
	require.NoError(t, err)

	handle := models.NotificationHandle{ChatID: 100, MessageID: 7}
	assert.True(t, r.SetNotification(req.ID, handle))
	assert.False(t, r.SetNotification("missing", handle))

	// Persistence only applies to approvals.
	assert.False(t, r.SetPersistence(req.ID, models.PersistencePersisted))

	_, _, err = r.Decide(req.ID, models.RequestStatusApproved, "42")
	require.NoError(t, err)
	assert.True(t, r.SetPersistence(req.ID, models.PersistencePersisted))

	got, _ := r.Get(req.ID)
	assert.Equal(t, handle, got.Notification)
	assert.Equal(t, models.PersistencePersisted, got.Persistence)
	assert.Equal(t, models.RequestStatusApproved, got.Status)
}

func TestRetention(t *testing.T) {
	clock := newClock()
	r := New(Options{Now: clock.Now, PendingTTL: time.Hour, TerminalTTL: 10 * time.Minute})

	stale, err := r.Register(proposal("stale"))
	require.NoError(t, err)
	decided, err := r.Register(proposal("decided"))
	require.NoError(t, err)
	_, _, err = r.Decide(decided.ID, models.RequestStatusRejected, "42")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, _, err = r.Decide(decided.ID, models.RequestStatusApproved, "42")
	require.NoError(t, err, "decided requests stay visible inside the retention window")

	clock.Advance(10 * time.Minute)
	_, ok := r.Get(decided.ID)
	assert.False(t, ok)

	clock.Advance(time.Hour)
	_, _, err = r.Decide(stale.ID, models.RequestStatusApproved, "42")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 2, r.Sweep())
	assert.Empty(t, r.Pending())
}

func TestCapacity(t *testing.T) {
	clock := newClock()
	r := New(Options{Now: clock.Now, MaxEntries: 2})

	a, err := r.Register(proposal("a"))
	require.NoError(t, err)
	_, err = r.Register(proposal("b"))
	require.NoError(t, err)

	_, err = r.Register(proposal("c"))
	assert.ErrorIs(t, err, ErrFull)

	// A decided request makes room.
	_, _, err = r.Decide(a.ID, models.RequestStatusRejected, "42")
	require.NoError(t, err)
	_, err = r.Register(proposal("c"))
	require.NoError(t, err)

	_, ok := r.Get(a.ID)
	assert.False(t, ok)
}

func TestPending_Ordering(t *testing.T) {
	clock := newClock()
	r := New(Options{Now: clock.Now})

	for _, name := range []string{"first", "second", "third"} {
		_, err := r.Register(proposal(name))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	pending := r.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "first", pending[0].Name)
	assert.Equal(t, "third", pending[2].Name)

	stats := r.Stats()
	assert.Equal(t, 3, stats[models.RequestStatusPending])
	assert.Equal(t, 0, stats[models.RequestStatusApproved])
}

func TestUnpersistedApprovals(t *testing.T) {
	clock := newClock()
	r := New(Options{Now: clock.Now, TerminalTTL: time.Hour})

	ids := make([]string, 0, 4)
	for _, name := range []string{"late", "early", "done", "rejected"} {
		req, err := r.Register(proposal(name))
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	_, err := r.Register(proposal("waiting"))
	require.NoError(t, err)

	_, _, err = r.Decide(ids[1], models.RequestStatusApproved, "42")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, _, err = r.Decide(ids[0], models.RequestStatusApproved, "42")
	require.NoError(t, err)
	_, _, err = r.Decide(ids[2], models.RequestStatusApproved, "42")
	require.NoError(t, err)
	require.True(t, r.SetPersistence(ids[2], models.PersistencePersisted))
	_, _, err = r.Decide(ids[3], models.RequestStatusRejected, "42")
	require.NoError(t, err)

	got := r.UnpersistedApprovals()
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].Name)
	assert.Equal(t, "late", got[1].Name)
	assert.Equal(t, models.PersistencePending, got[0].Persistence)

	clock.Advance(2 * time.Hour)
	assert.Empty(t, r.UnpersistedApprovals())
}
