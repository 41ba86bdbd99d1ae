// Package registry owns the in-memory set of moderation requests.
//
// Every read-modify-write happens inside one critical section and callers only
// ever receive copies, so a request's status can change at most once no matter
// how many callbacks race for it.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"locbot/internal/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for ids that were never registered or were evicted.
	ErrNotFound = errors.New("request not found")
	// ErrFull is returned when the registry holds MaxEntries live pending requests.
	ErrFull = errors.New("registry is full")
	// ErrInvalidVerdict is returned when a transition targets a non-terminal status.
	ErrInvalidVerdict = errors.New("verdict must be approved or rejected")
)

// Options tune retention. Zero values fall back to the defaults below.
type Options struct {
	// PendingTTL evicts requests nobody decided on.
	PendingTTL time.Duration
	// TerminalTTL keeps decided requests around so repeated callbacks stay no-ops.
	TerminalTTL time.Duration
	// MaxEntries caps memory use.
	MaxEntries int
	Now        func() time.Time
	NewID      func() string
}

const (
	DefaultPendingTTL  = 72 * time.Hour
	DefaultTerminalTTL = 24 * time.Hour
	DefaultMaxEntries  = 10000
	maxIDAttempts      = 5
)

// Registry is the single owner of PendingRequest state.
type Registry struct {
	mu          sync.Mutex
	items       map[string]*models.PendingRequest
	pendingTTL  time.Duration
	terminalTTL time.Duration
	maxEntries  int
	now         func() time.Time
	newID       func() string
}

// New creates an empty registry.
func New(opts Options) *Registry {
	r := &Registry{
		items:       make(map[string]*models.PendingRequest),
		pendingTTL:  opts.PendingTTL,
		terminalTTL: opts.TerminalTTL,
		maxEntries:  opts.MaxEntries,
		now:         opts.Now,
		newID:       opts.NewID,
	}
	if r.pendingTTL <= 0 {
		r.pendingTTL = DefaultPendingTTL
	}
	if r.terminalTTL <= 0 {
		r.terminalTTL = DefaultTerminalTTL
	}
	if r.maxEntries <= 0 {
		r.maxEntries = DefaultMaxEntries
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// Register stores a new pending request for p and returns a copy of it.
func (r *Registry) Register(p models.Proposal) (models.PendingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)
	if len(r.items) >= r.maxEntries {
		r.evictOldestTerminalLocked()
	}
	if len(r.items) >= r.maxEntries {
		return models.PendingRequest{}, ErrFull
	}

	var id string
	for i := 0; i < maxIDAttempts; i++ {
		candidate := r.newID()
		if _, taken := r.items[candidate]; !taken && candidate != "" {
			id = candidate
			break
		}
	}
	if id == "" {
		return models.PendingRequest{}, errors.New("could not allocate a unique request id")
	}

	req := &models.PendingRequest{
		ID:          id,
		Proposal:    p,
		Status:      models.RequestStatusPending,
		ReceivedAt:  now,
		Persistence: models.PersistenceNone,
	}
	r.items[id] = req
	return *req, nil
}

// Get returns a copy of the request with id.
func (r *Registry) Get(id string) (models.PendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.items[id]
	if !ok || r.expiredLocked(req, r.now()) {
		return models.PendingRequest{}, false
	}
	return *req, true
}

// Decide moves a pending request to a terminal status and stamps the actor.
// It returns the stored request and whether this call performed the transition.
// Requests that are already terminal are returned unchanged with applied=false.
func (r *Registry) Decide(id string, verdict models.RequestStatus, actor string) (models.PendingRequest, bool, error) {
	if !verdict.Terminal() {
		return models.PendingRequest{}, false, ErrInvalidVerdict
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	req, ok := r.items[id]
	if !ok || r.expiredLocked(req, now) {
		return models.PendingRequest{}, false, ErrNotFound
	}
	if req.Status.Terminal() {
		return *req, false, nil
	}

	req.Status = verdict
	req.DecidedAt = now
	req.DecidedBy = actor
	if verdict == models.RequestStatusApproved {
		req.Persistence = models.PersistencePending
	}
	return *req, true, nil
}

// SetNotification attaches the moderation message handle. It reports false if
// the request is gone.
func (r *Registry) SetNotification(id string, handle models.NotificationHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.items[id]
	if !ok {
		return false
	}
	req.Notification = handle
	return true
}

// SetPersistence records the outcome of writing an approval to the shared document.
func (r *Registry) SetPersistence(id string, state models.Persistence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.items[id]
	if !ok || req.Status != models.RequestStatusApproved {
		return false
	}
	req.Persistence = state
	return true
}

// Pending returns the live pending requests, oldest first.
func (r *Registry) Pending() []models.PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]models.PendingRequest, 0, len(r.items))
	for _, req := range r.items {
		if req.Status == models.RequestStatusPending && !r.expiredLocked(req, now) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// UnpersistedApprovals returns live approvals whose document write has not
// been confirmed, oldest decision first.
func (r *Registry) UnpersistedApprovals() []models.PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var out []models.PendingRequest
	for _, req := range r.items {
		if req.Status == models.RequestStatusApproved && req.Persistence == models.PersistencePending && !r.expiredLocked(req, now) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DecidedAt.Before(out[j].DecidedAt)
	})
	return out
}

// Stats counts live requests by status.
func (r *Registry) Stats() map[models.RequestStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	stats := map[models.RequestStatus]int{
		models.RequestStatusPending:  0,
		models.RequestStatusApproved: 0,
		models.RequestStatusRejected: 0,
	}
	for _, req := range r.items {
		if !r.expiredLocked(req, now) {
			stats[req.Status]++
		}
	}
	return stats
}

// PendingCount returns the number of live pending requests.
func (r *Registry) PendingCount() int {
	return r.Stats()[models.RequestStatusPending]
}

// Sweep drops expired requests and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

func (r *Registry) expiredLocked(req *models.PendingRequest, now time.Time) bool {
	if req.Status.Terminal() {
		return now.Sub(req.DecidedAt) > r.terminalTTL
	}
	return now.Sub(req.ReceivedAt) > r.pendingTTL
}

func (r *Registry) sweepLocked(now time.Time) int {
	removed := 0
	for id, req := range r.items {
		if r.expiredLocked(req, now) {
			delete(r.items, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) evictOldestTerminalLocked() {
	var oldest *models.PendingRequest
	for _, req := range r.items {
		if !req.Status.Terminal() {
			continue
		}
		if oldest == nil || req.DecidedAt.Before(oldest.DecidedAt) {
			oldest = req
		}
	}
	if oldest != nil {
		delete(r.items, oldest.ID)
	}
}
