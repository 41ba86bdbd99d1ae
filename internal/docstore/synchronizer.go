package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"locbot/internal/models"
	"locbot/internal/observability"
	appmodels "locbot/models"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
)

// SyncOptions bound the conflict retry loop.
type SyncOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout bounds each individual store call.
	Timeout time.Duration
	Now     func() time.Time
}

const (
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 2 * time.Second
	DefaultTimeout         = 10 * time.Second
)

// Result describes a finished synchronization.
type Result struct {
	// Version is the document version after the call.
	Version string
	// Added counts the locations this call wrote; zero when all were present.
	Added int
	// Attempts counts load-modify-store cycles, conflicts included.
	Attempts int
}

// Synchronizer merges locations into the shared document. It keeps no copy
// of the document between calls: every cycle re-reads the store.
type Synchronizer struct {
	store  Store
	opts   SyncOptions
	logger *observability.StoreLogger

	mu       sync.RWMutex
	lastSync time.Time
}

// NewSynchronizer wraps store with the retry policy in opts.
func NewSynchronizer(store Store, opts SyncOptions) *Synchronizer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultInitialInterval
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = DefaultMaxInterval
		if opts.MaxInterval < opts.InitialInterval {
			opts.MaxInterval = opts.InitialInterval
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		store:  store,
		opts:   opts,
		logger: observability.NewStoreLogger(store.Name()),
	}
}

// Append adds loc to the document unless an entry with its id already exists.
func (s *Synchronizer) Append(ctx context.Context, loc models.Location) (Result, error) {
	span, ctx := observability.NewSpan(ctx, "docstore.append")
	defer span.End()
	span.AddAttributes(attribute.String("location.id", loc.ID))

	res, err := s.commit(ctx, "append", fmt.Sprintf("Add location: %s", loc.Name), []models.Location{loc})
	span.AddAttributes(attribute.Int("sync.attempts", res.Attempts))
	span.SetError(err)
	return res, err
}

// Publish merges every location whose id is absent from the document.
func (s *Synchronizer) Publish(ctx context.Context, locs []models.Location) (Result, error) {
	span, ctx := observability.NewSpan(ctx, "docstore.publish")
	defer span.End()
	span.AddAttributes(attribute.Int("locations.count", len(locs)))

	res, err := s.commit(ctx, "publish", fmt.Sprintf("Sync %d approved locations", len(locs)), locs)
	span.AddAttributes(attribute.Int("sync.attempts", res.Attempts), attribute.Int("sync.added", res.Added))
	span.SetError(err)
	return res, err
}

// LastSync returns the time of the last confirmed write or no-op check.
func (s *Synchronizer) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

func (s *Synchronizer) markSynced() {
	s.mu.Lock()
	s.lastSync = s.opts.Now()
	s.mu.Unlock()
}

func (s *Synchronizer) commit(ctx context.Context, operation, message string, locs []models.Location) (Result, error) {
	defer observability.TrackSync(operation)()

	attempts := 0
	cycle := func() (Result, error) {
		attempts++
		res, err := s.cycle(ctx, operation, message, locs, attempts)
		if err != nil && !errors.Is(err, ErrVersionMismatch) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.3

	res, err := backoff.Retry(ctx, cycle,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxAttempts)),
	)
	res.Attempts = attempts
	if err == nil {
		observability.SyncAttemptsTotal.WithLabelValues(operation, "success").Inc()
		s.markSynced()
		return res, nil
	}

	var appErr *appmodels.AppError
	switch {
	case errors.Is(err, ErrVersionMismatch):
		observability.SyncAttemptsTotal.WithLabelValues(operation, "exhausted").Inc()
		return res, appmodels.NewConflictError(attempts, err)
	case errors.As(err, &appErr):
		return res, appErr
	default:
		s.logger.LogError(ctx, err, operation)
		return res, appmodels.NewTransportError("document sync", err)
	}
}

// cycle is one load-modify-store round. Version mismatches are returned as-is
// so the caller retries; every other failure is final.
func (s *Synchronizer) cycle(ctx context.Context, operation, message string, locs []models.Location, attempt int) (Result, error) {
	snap, err := s.fetch(ctx)
	if err != nil {
		return Result{}, err
	}

	doc, err := models.DecodeDocument(snap.Content)
	if err != nil {
		observability.SyncAttemptsTotal.WithLabelValues(operation, "unreadable").Inc()
		return Result{}, appmodels.NewTransportError("read shared document", err)
	}

	present := doc.IDs()
	added := 0
	for _, loc := range locs {
		if _, ok := present[loc.ID]; ok {
			continue
		}
		if err := doc.Append(loc); err != nil {
			return Result{}, appmodels.NewInternalError(err)
		}
		present[loc.ID] = struct{}{}
		added++
	}
	if added == 0 {
		observability.SyncAttemptsTotal.WithLabelValues(operation, "noop").Inc()
		return Result{Version: snap.Version}, nil
	}

	doc.Recompute(s.opts.Now())
	content, err := doc.Encode()
	if err != nil {
		return Result{}, appmodels.NewInternalError(err)
	}

	version, err := s.write(ctx, WriteRequest{Content: content, Version: snap.Version, Message: message})
	if err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			observability.SyncAttemptsTotal.WithLabelValues(operation, "conflict").Inc()
			s.logger.LogConflict(ctx, snap.Version, attempt)
		}
		return Result{}, err
	}
	s.logger.LogWrite(ctx, snap.Version, version)
	return Result{Version: version, Added: added}, nil
}

func (s *Synchronizer) fetch(ctx context.Context) (Snapshot, error) {
	span, ctx := observability.TraceStoreOperation(ctx, s.store.Name(), "fetch")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	snap, err := s.store.Fetch(callCtx)
	if err != nil {
		span.SetError(err)
		return Snapshot{}, appmodels.NewTransportError("fetch shared document", err)
	}
	s.logger.LogFetch(ctx, snap.Version, len(snap.Content))
	return snap, nil
}

func (s *Synchronizer) write(ctx context.Context, req WriteRequest) (string, error) {
	span, ctx := observability.TraceStoreOperation(ctx, s.store.Name(), "write")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	version, err := s.store.Write(callCtx, req)
	if err != nil {
		if errors.Is(err, ErrVersionMismatch) {
			return "", err
		}
		span.SetError(err)
		return "", appmodels.NewTransportError("write shared document", err)
	}
	return version, nil
}
