package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"locbot/internal/middleware"
	"locbot/internal/models"
	"locbot/internal/scheduler"
	"locbot/internal/service"
	appmodels "locbot/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "locbot-api"
	tokenAudience = "locbot-admin"
)

// IssueAdminToken signs a bearer token for the moderator's admin API.
func IssueAdminToken(secret string, moderatorID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(moderatorID, 10),
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AdminRequired returns middleware that only lets the configured moderator through.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		tokenString := ""
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		if tokenString == "" {
			return appmodels.RespondWithError(c, fiber.StatusUnauthorized,
				appmodels.NewUnauthorizedError("Authorization required"))
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
			// Validate signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
			}
			return []byte(s.config.JWTSecret), nil
		},
			jwt.WithIssuer(tokenIssuer),
			jwt.WithAudience(tokenAudience),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid {
			return appmodels.RespondWithError(c, fiber.StatusUnauthorized,
				appmodels.NewUnauthorizedError("Invalid or expired token"))
		}

		if claims.Subject == "" || claims.Subject != strconv.FormatInt(s.config.ModeratorChatID, 10) {
			return appmodels.RespondWithError(c, fiber.StatusForbidden,
				appmodels.NewUnauthorizedError("Admin access required"))
		}

		actor := "admin:" + claims.Subject
		c.Locals("actor", actor)
		c.SetUserContext(middleware.WithActor(c.UserContext(), actor))

		return c.Next()
	}
}

// GetAdminRequests handles GET /api/admin/requests
// @Summary List pending requests
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.AdminRequestsResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /api/admin/requests [get]
func (s *Server) GetAdminRequests(c *fiber.Ctx) error {
	pending := s.registry.Pending()
	if pending == nil {
		pending = []models.PendingRequest{}
	}
	stats := make(map[string]int)
	for status, n := range s.registry.Stats() {
		stats[string(status)] = n
	}
	return c.JSON(appmodels.AdminRequestsResponse{
		Requests: pending,
		Count:    len(pending),
		Stats:    stats,
	})
}

// ApproveRequest handles POST /api/admin/requests/:id/approve
// @Summary Approve a request
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 200 {object} models.DecisionResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/admin/requests/{id}/approve [post]
func (s *Server) ApproveRequest(c *fiber.Ctx) error {
	return s.decide(c, models.RequestStatusApproved)
}

// RejectRequest handles POST /api/admin/requests/:id/reject
// @Summary Reject a request
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Request ID"
// @Success 200 {object} models.DecisionResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/admin/requests/{id}/reject [post]
func (s *Server) RejectRequest(c *fiber.Ctx) error {
	return s.decide(c, models.RequestStatusRejected)
}

func (s *Server) decide(c *fiber.Ctx, verdict models.RequestStatus) error {
	actor, _ := c.Locals("actor").(string)
	d, err := s.approvals.Decide(c.UserContext(), service.DecideInput{
		RequestID: c.Params("id"),
		Verdict:   verdict,
		Actor:     actor,
	})
	if err != nil {
		return appmodels.RespondWithError(c, appmodels.StatusFor(err), err)
	}
	return c.JSON(appmodels.DecisionResponse{
		RequestID:   d.RequestID,
		Status:      string(d.Status),
		Persistence: string(d.Persistence),
		Applied:     d.Applied,
		DecidedBy:   d.DecidedBy,
		DecidedAt:   d.DecidedAt,
	})
}

// GetAdminLocations handles GET /api/admin/locations
// @Summary List the approval ledger
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param unpublished query bool false "Only approvals missing from the shared document"
// @Success 200 {array} models.ApprovedLocation
// @Router /api/admin/locations [get]
func (s *Server) GetAdminLocations(c *fiber.Ctx) error {
	if s.ledger == nil {
		return c.JSON([]models.ApprovedLocation{})
	}

	var (
		rows []models.ApprovedLocation
		err  error
	)
	if c.QueryBool("unpublished") {
		rows, err = s.ledger.ListUnpublished(c.UserContext())
	} else {
		rows, err = s.ledger.List(c.UserContext())
	}
	if err != nil {
		return appmodels.RespondWithError(c, fiber.StatusInternalServerError,
			appmodels.NewInternalError(err))
	}
	return c.JSON(rows)
}

// TriggerReconcile handles POST /api/admin/reconcile
// @Summary Republish the ledger now
// @Description Runs one reconciliation pass. Fails with 409 while a scheduled pass is running.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ReconcileResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /api/admin/reconcile [post]
func (s *Server) TriggerReconcile(c *fiber.Ctx) error {
	if s.reconciler == nil {
		return appmodels.RespondWithError(c, fiber.StatusServiceUnavailable,
			appmodels.NewUnavailableError("reconciliation is not configured"))
	}

	report, err := s.reconciler.RunOnce(c.UserContext())
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			return appmodels.RespondWithError(c, fiber.StatusConflict, &appmodels.AppError{
				Code:    appmodels.CodeConflict,
				Message: "Reconciliation already running",
			})
		}
		return appmodels.RespondWithError(c, appmodels.StatusFor(err), err)
	}

	return c.JSON(appmodels.ReconcileResponse{
		Locations:  report.Locations,
		Added:      report.Added,
		Backfilled: report.Backfilled,
		Attempts:   report.Attempts,
		Version:    report.Version,
		StartedAt:  report.StartedAt,
		DurationMS: report.Duration.Milliseconds(),
	})
}

// GetFeatureFlags returns configured feature flags and their state for the moderator.
// @Summary Feature flags
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/admin/feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	subject := strconv.FormatInt(s.config.ModeratorChatID, 10)
	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(subject),
	})
}
