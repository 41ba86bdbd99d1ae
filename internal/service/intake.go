package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"locbot/internal/models"
	"locbot/internal/notify"
	"locbot/internal/observability"
	"locbot/internal/registry"
	"locbot/internal/validation"
	appmodels "locbot/models"
)

// RequestNotifier posts a registered request to the moderator.
type RequestNotifier interface {
	Notify(ctx context.Context, req models.PendingRequest) notify.NotifyResult
}

// IntakeService accepts public proposals.
type IntakeService struct {
	validator     *validation.Validator
	registry      *registry.Registry
	notifier      RequestNotifier
	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

func NewIntakeService(
	validator *validation.Validator,
	reg *registry.Registry,
	notifier RequestNotifier,
	notifyTimeout time.Duration,
) *IntakeService {
	if notifyTimeout <= 0 {
		notifyTimeout = 10 * time.Second
	}
	return &IntakeService{
		validator:     validator,
		registry:      reg,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
	}
}

// Submit validates and registers a proposal and returns its request id. The
// moderator is notified in the background; delivery problems never fail the call.
func (s *IntakeService) Submit(ctx context.Context, in appmodels.SubmissionRequest) (string, error) {
	proposal, err := s.validator.ValidateSubmission(in)
	if err != nil {
		observability.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return "", err
	}

	req, err := s.registry.Register(proposal)
	if err != nil {
		if errors.Is(err, registry.ErrFull) {
			observability.SubmissionsTotal.WithLabelValues("full").Inc()
			return "", appmodels.NewUnavailableError("Too many requests are awaiting moderation")
		}
		observability.SubmissionsTotal.WithLabelValues("error").Inc()
		return "", appmodels.NewInternalError(err)
	}
	observability.SubmissionsTotal.WithLabelValues("accepted").Inc()
	observability.PendingRequests.Set(float64(s.registry.PendingCount()))

	s.notifyAsync(ctx, req)
	return req.ID, nil
}

// Wait blocks until background notifications have finished.
func (s *IntakeService) Wait() {
	s.inflight.Wait()
}

func (s *IntakeService) notifyAsync(ctx context.Context, req models.PendingRequest) {
	if s.notifier == nil {
		return
	}
	// The HTTP request may be gone by the time the chat API answers.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	bg = observability.WithCorrelationID(bg, req.ID)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()

		observability.LogAsyncOperationStart(bg, "notify_moderator", map[string]interface{}{"request_id": req.ID})
		res := s.notifier.Notify(bg, req)
		if res.Err != nil {
			observability.LogAsyncOperationError(bg, "notify_moderator", res.Err, map[string]interface{}{
				"request_id": req.ID,
				"status":     string(res.Status),
			})
			return
		}
		observability.LogAsyncOperationEnd(bg, "notify_moderator", map[string]interface{}{
			"request_id": req.ID,
			"status":     string(res.Status),
		})
		if res.Status == notify.StatusDegraded {
			observability.GlobalLogger.WarnContext(bg, "moderation message sent for a request that is gone",
				slog.String("request_id", req.ID))
		}
	}()
}
