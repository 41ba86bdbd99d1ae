package server

import (
	appmodels "locbot/models"

	"github.com/gofiber/fiber/v2"
)

// CreateSubmission handles POST /api/submissions
// @Summary Propose a location
// @Description Validates a proposal and forwards it to the moderator. Acceptance does not mean approval.
// @Tags submissions
// @Accept json
// @Produce json
// @Param request body models.SubmissionRequest true "Location proposal"
// @Success 202 {object} models.SubmissionResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /api/submissions [post]
func (s *Server) CreateSubmission(c *fiber.Ctx) error {
	var req appmodels.SubmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return appmodels.RespondWithError(c, fiber.StatusBadRequest,
			appmodels.NewValidationError("Invalid request body"))
	}

	id, err := s.intake.Submit(c.UserContext(), req)
	if err != nil {
		return appmodels.RespondWithError(c, appmodels.StatusFor(err), err)
	}

	return c.Status(fiber.StatusAccepted).JSON(appmodels.SubmissionResponse{
		Accepted:  true,
		RequestID: id,
	})
}
