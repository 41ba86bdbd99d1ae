// Package callback turns moderator chat activity into decisions and replies.
package callback

import (
	"context"
	"log/slog"
	"strconv"

	"locbot/internal/events"
	"locbot/internal/models"
	"locbot/internal/notify"
	"locbot/internal/observability"
	"locbot/internal/service"
	appmodels "locbot/models"
)

// Answerer acknowledges callback queries.
type Answerer interface {
	Answer(ctx context.Context, callbackID, text string, alert bool) error
}

// Decider applies moderator verdicts.
type Decider interface {
	Decide(ctx context.Context, in service.DecideInput) (service.Decision, error)
}

// RequestLookup reads registry state without mutating it.
type RequestLookup interface {
	Get(id string) (models.PendingRequest, bool)
}

// Outcome classifies what a callback led to.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeCopied    Outcome = "copied"
	OutcomeRefused   Outcome = "refused"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
)

// RouteResult reports how one callback was handled.
type RouteResult struct {
	Action    events.Action
	RequestID string
	Outcome   Outcome
	Decision  service.Decision
	// Acked is false when the acknowledgment itself failed.
	Acked bool
	Err   error
}

// Router handles button presses on moderation messages.
type Router struct {
	answerer    Answerer
	decider     Decider
	requests    RequestLookup
	moderatorID int64
}

// NewRouter creates a router accepting actions only from moderatorID.
func NewRouter(answerer Answerer, decider Decider, requests RequestLookup, moderatorID int64) *Router {
	return &Router{
		answerer:    answerer,
		decider:     decider,
		requests:    requests,
		moderatorID: moderatorID,
	}
}

// Route acknowledges cb and, for approve/reject, dispatches the verdict. The
// acknowledgment always goes out before any decision work starts.
func (r *Router) Route(ctx context.Context, cb events.Callback) RouteResult {
	res := r.route(ctx, cb)
	action := string(res.Action)
	if action == "" {
		action = "unknown"
	}
	observability.CallbacksTotal.WithLabelValues(action, string(res.Outcome)).Inc()
	return res
}

func (r *Router) route(ctx context.Context, cb events.Callback) RouteResult {
	tok, err := events.ParseToken(cb.Data)
	res := RouteResult{Action: tok.Action, RequestID: tok.RequestID}
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "ignoring callback with bad token",
			slog.String("data", cb.Data),
			slog.Int64("from", cb.FromID),
			slog.String("error", err.Error()),
		)
		res.Outcome = OutcomeMalformed
		res.Acked = r.ack(ctx, cb, "❌ Acción no válida", false)
		return res
	}

	if !r.authorized(cb) {
		observability.GlobalLogger.WarnContext(ctx, "refusing callback from non-moderator",
			slog.Int64("from", cb.FromID),
			slog.String("request_id", tok.RequestID),
		)
		res.Outcome = OutcomeRefused
		res.Acked = r.ack(ctx, cb, "⛔ Solo el moderador puede hacer esto", true)
		return res
	}

	req, ok := r.requests.Get(tok.RequestID)
	if !ok {
		res.Outcome = OutcomeNotFound
		res.Acked = r.ack(ctx, cb, "❌ Solicitud no encontrada", true)
		return res
	}

	switch tok.Action {
	case events.ActionCopy:
		res.Outcome = OutcomeCopied
		res.Acked = r.ack(ctx, cb, "📍 Coordenadas:\n"+notify.Coordinates(req.Lat, req.Lon), true)
		return res
	case events.ActionApprove:
		res.Acked = r.ack(ctx, cb, ackText(req, "✅ Aprobando…"), false)
		return r.decide(ctx, cb, models.RequestStatusApproved, res)
	default:
		res.Acked = r.ack(ctx, cb, ackText(req, "❌ Rechazando…"), false)
		return r.decide(ctx, cb, models.RequestStatusRejected, res)
	}
}

func (r *Router) decide(ctx context.Context, cb events.Callback, verdict models.RequestStatus, res RouteResult) RouteResult {
	actor := cb.FromName
	if actor == "" {
		actor = strconv.FormatInt(cb.FromID, 10)
	}

	decision, err := r.decider.Decide(ctx, service.DecideInput{
		RequestID: res.RequestID,
		Verdict:   verdict,
		Actor:     actor,
		Origin:    cb.Origin,
	})
	res.Decision = decision
	switch {
	case appmodels.HasCode(err, appmodels.CodeNotFound):
		res.Outcome = OutcomeNotFound
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = err
		observability.GlobalLogger.ErrorContext(ctx, "decision failed",
			slog.String("request_id", res.RequestID),
			slog.String("error", err.Error()),
		)
	case decision.Applied:
		res.Outcome = OutcomeApplied
	default:
		res.Outcome = OutcomeNoop
	}
	return res
}

func (r *Router) authorized(cb events.Callback) bool {
	if r.moderatorID == 0 {
		return false
	}
	return cb.FromID == r.moderatorID || cb.Origin.ChatID == r.moderatorID
}

func (r *Router) ack(ctx context.Context, cb events.Callback, text string, alert bool) bool {
	if r.answerer == nil || cb.ID == "" {
		return false
	}
	if err := r.answerer.Answer(ctx, cb.ID, text, alert); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to acknowledge callback",
			slog.String("callback_id", cb.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// ackText tells the moderator when the request was already decided.
func ackText(req models.PendingRequest, pending string) string {
	switch req.Status {
	case models.RequestStatusApproved:
		return "ℹ️ Ya fue aprobada"
	case models.RequestStatusRejected:
		return "ℹ️ Ya fue rechazada"
	default:
		return pending
	}
}
