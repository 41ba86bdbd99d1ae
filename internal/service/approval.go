// Package service holds the request lifecycle: intake of proposals and the
// moderator decisions that end it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"locbot/internal/docstore"
	"locbot/internal/models"
	"locbot/internal/notify"
	"locbot/internal/observability"
	"locbot/internal/registry"
	"locbot/internal/repository"
	appmodels "locbot/models"

	"go.opentelemetry.io/otel/attribute"
)

// Appender writes one approved location to the shared document.
type Appender interface {
	Append(ctx context.Context, loc models.Location) (docstore.Result, error)
}

// MessageEditor rewrites moderation messages.
type MessageEditor interface {
	Edit(ctx context.Context, handle models.NotificationHandle, text string) notify.EditResult
	Renderer() *notify.Renderer
}

// DecideInput is a moderator verdict on one request.
type DecideInput struct {
	RequestID string
	Verdict   models.RequestStatus
	Actor     string
	// Origin is the message the moderator acted on, used when no handle was stored.
	Origin models.NotificationHandle
}

// Decision is the outcome of Decide.
type Decision struct {
	RequestID   string
	Status      models.RequestStatus
	Persistence models.Persistence
	// Applied is false when the request had already been decided.
	Applied   bool
	DecidedBy string
	DecidedAt time.Time
	Name      string
	// Edit is the outcome of rewriting the moderation message; empty when not applied.
	Edit notify.Status
}

func decisionFrom(req models.PendingRequest, applied bool) Decision {
	return Decision{
		RequestID:   req.ID,
		Status:      req.Status,
		Persistence: req.Persistence,
		Applied:     applied,
		DecidedBy:   req.DecidedBy,
		DecidedAt:   req.DecidedAt,
		Name:        req.Name,
	}
}

// ApprovalService turns verdicts into terminal transitions and persists approvals.
type ApprovalService struct {
	registry *registry.Registry
	ledger   repository.LocationRepository
	appender Appender
	editor   MessageEditor
	now      func() time.Time
}

func NewApprovalService(
	reg *registry.Registry,
	ledger repository.LocationRepository,
	appender Appender,
	editor MessageEditor,
) *ApprovalService {
	return &ApprovalService{
		registry: reg,
		ledger:   ledger,
		appender: appender,
		editor:   editor,
		now:      time.Now,
	}
}

// Decide applies a verdict at most once per request. A failed document write
// never undoes an approval; it leaves Persistence pending for the reconciler.
func (s *ApprovalService) Decide(ctx context.Context, in DecideInput) (Decision, error) {
	span, ctx := observability.NewSpan(ctx, "approval.decide")
	defer span.End()
	span.AddAttributes(
		attribute.String("request.id", in.RequestID),
		attribute.String("verdict", string(in.Verdict)),
	)

	req, applied, err := s.registry.Decide(in.RequestID, in.Verdict, in.Actor)
	if err != nil {
		span.SetError(err)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			return Decision{}, appmodels.NewNotFoundError("Request", in.RequestID)
		case errors.Is(err, registry.ErrInvalidVerdict):
			return Decision{}, appmodels.NewValidationError(err.Error())
		default:
			return Decision{}, appmodels.NewInternalError(err)
		}
	}
	if !applied {
		span.AddAttributes(attribute.Bool("decision.applied", false))
		return decisionFrom(req, false), nil
	}
	observability.PendingRequests.Set(float64(s.registry.PendingCount()))

	if req.Status == models.RequestStatusApproved {
		req.Persistence = s.persist(ctx, req)
	}

	decision := decisionFrom(req, true)
	decision.Edit = s.rewrite(ctx, req, in.Origin)

	observability.DecisionsTotal.WithLabelValues(string(req.Status), string(req.Persistence)).Inc()
	observability.GlobalLogger.InfoContext(ctx, "moderation decision applied",
		slog.String("request_id", req.ID),
		slog.String("status", string(req.Status)),
		slog.String("persistence", string(req.Persistence)),
		slog.String("actor", req.DecidedBy),
	)
	span.AddAttributes(
		attribute.Bool("decision.applied", true),
		attribute.String("decision.persistence", string(req.Persistence)),
	)
	return decision, nil
}

// persist records the approval locally, then appends it to the shared document.
func (s *ApprovalService) persist(ctx context.Context, req models.PendingRequest) models.Persistence {
	row := models.NewApprovedLocation(req)
	recorded := true
	if s.ledger != nil {
		if err := s.ledger.Record(ctx, row); err != nil {
			recorded = false
			observability.GlobalLogger.ErrorContext(ctx, "failed to record approval in ledger",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	res, err := s.appender.Append(ctx, models.LocationFromRequest(req))
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "approval not yet in shared document",
			slog.String("request_id", req.ID),
			slog.Int("attempts", res.Attempts),
			slog.String("error", err.Error()),
		)
		return models.PersistencePending
	}

	s.registry.SetPersistence(req.ID, models.PersistencePersisted)
	if s.ledger != nil && recorded {
		if err := s.ledger.MarkPublished(ctx, []string{row.ID}, s.now()); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to mark approval published",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return models.PersistencePersisted
}

func (s *ApprovalService) rewrite(ctx context.Context, req models.PendingRequest, origin models.NotificationHandle) notify.Status {
	if s.editor == nil {
		return notify.StatusSkipped
	}
	handle := req.Notification
	if !handle.Valid() {
		handle = origin
	}
	return s.editor.Edit(ctx, handle, s.editor.Renderer().Decision(req)).Status
}
