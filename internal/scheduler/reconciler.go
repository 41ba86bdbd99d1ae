// Package scheduler periodically republishes the local approval ledger to the
// shared document so approvals whose write failed eventually land.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"locbot/internal/docstore"
	"locbot/internal/models"
	"locbot/internal/observability"
	"locbot/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// ErrRunInProgress is returned by RunOnce while another run is active.
var ErrRunInProgress = errors.New("reconciliation already running")

// Publisher merges locations into the shared document.
type Publisher interface {
	Publish(ctx context.Context, locs []models.Location) (docstore.Result, error)
}

// Sweeper drops expired registry entries.
type Sweeper interface {
	Sweep() int
	PendingCount() int
}

// Approvals exposes registry approvals whose document write is unconfirmed.
type Approvals interface {
	UnpersistedApprovals() []models.PendingRequest
	SetPersistence(id string, state models.Persistence) bool
}

// Options configure a Reconciler.
type Options struct {
	Interval time.Duration
	// Sweeper, when set, is swept on every tick.
	Sweeper Sweeper
	// Approvals, when set, are published alongside the ledger and backfilled
	// into it.
	Approvals Approvals
	Now       func() time.Time
}

// Report describes one finished run.
type Report struct {
	Locations int
	// Backfilled counts registry approvals newly written to the ledger.
	Backfilled int
	Added      int
	Attempts   int
	Version    string
	StartedAt  time.Time
	Duration   time.Duration
}

// Reconciler owns the periodic republish loop. Runs never overlap.
type Reconciler struct {
	ledger    repository.LocationRepository
	publisher Publisher
	interval  time.Duration
	sweeper   Sweeper
	approvals Approvals
	now       func() time.Time
	running   atomic.Bool

	mu          sync.RWMutex
	lastSuccess time.Time
	lastReport  Report
}

const DefaultInterval = 5 * time.Minute

func NewReconciler(ledger repository.LocationRepository, publisher Publisher, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		ledger:    ledger,
		publisher: publisher,
		interval:  opts.Interval,
		sweeper:   opts.Sweeper,
		approvals: opts.Approvals,
		now:       opts.Now,
	}
}

// Run reconciles once immediately and then on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if r.sweeper != nil {
		if n := r.sweeper.Sweep(); n > 0 {
			observability.GlobalLogger.InfoContext(ctx, "expired requests swept", slog.Int("count", n))
		}
		observability.PendingRequests.Set(float64(r.sweeper.PendingCount()))
	}
	if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) && ctx.Err() == nil {
		observability.GlobalLogger.WarnContext(ctx, "reconciliation failed", slog.String("error", err.Error()))
	}
}

// RunOnce publishes every ledger location together with any registry approval
// the ledger is missing, then marks them published and persisted. It returns
// ErrRunInProgress if a run is already active.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		observability.ReconcileRunsTotal.WithLabelValues("skipped").Inc()
		return Report{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	span, ctx := observability.NewSpan(ctx, "reconcile.run")
	defer span.End()

	report := Report{StartedAt: r.now()}
	rows, err := r.ledger.List(ctx)
	if err != nil {
		return r.fail(ctx, span, report, err)
	}
	locs := make([]models.Location, 0, len(rows))
	known := make(map[string]struct{}, len(rows))
	var unpublished []string
	for _, row := range rows {
		locs = append(locs, row.Location())
		known[row.ID] = struct{}{}
		if row.PublishedAt == nil {
			unpublished = append(unpublished, row.ID)
		}
	}

	var approvals []models.PendingRequest
	if r.approvals != nil {
		approvals = r.approvals.UnpersistedApprovals()
	}
	for _, req := range approvals {
		id := models.LocationID(req.ID)
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		locs = append(locs, models.LocationFromRequest(req))
		if err := r.ledger.Record(ctx, models.NewApprovedLocation(req)); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to backfill approval into ledger",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		unpublished = append(unpublished, id)
		report.Backfilled++
	}

	report.Locations = len(locs)
	span.AddAttributes(
		attribute.Int("ledger.size", len(rows)),
		attribute.Int("registry.unpersisted", len(approvals)),
	)

	if len(locs) > 0 {
		res, err := r.publisher.Publish(ctx, locs)
		report.Added, report.Attempts, report.Version = res.Added, res.Attempts, res.Version
		if err != nil {
			return r.fail(ctx, span, report, err)
		}
		for _, req := range approvals {
			r.approvals.SetPersistence(req.ID, models.PersistencePersisted)
		}
		if err := r.ledger.MarkPublished(ctx, unpublished, r.now()); err != nil {
			return r.fail(ctx, span, report, err)
		}
	}

	report.Duration = r.now().Sub(report.StartedAt)
	r.mu.Lock()
	r.lastSuccess = r.now()
	r.lastReport = report
	r.mu.Unlock()

	observability.ReconcileRunsTotal.WithLabelValues("success").Inc()
	if report.Added > 0 {
		observability.GlobalLogger.InfoContext(ctx, "reconciliation published missing locations",
			slog.Int("added", report.Added),
			slog.Int("locations", report.Locations),
			slog.Int("backfilled", report.Backfilled),
			slog.String("version", report.Version),
		)
	}
	span.AddAttributes(attribute.Int("sync.added", report.Added))
	return report, nil
}

func (r *Reconciler) fail(ctx context.Context, span *observability.Span, report Report, err error) (Report, error) {
	span.SetError(err)
	observability.ReconcileRunsTotal.WithLabelValues("failed").Inc()
	report.Duration = r.now().Sub(report.StartedAt)
	return report, err
}

// LastSuccess is the end time of the last successful run; zero if none yet.
func (r *Reconciler) LastSuccess() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSuccess
}

// LastReport is the report of the last successful run.
func (r *Reconciler) LastReport() Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastReport
}

// Running reports whether a run is in flight.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}
