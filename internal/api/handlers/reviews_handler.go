package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/reputation"
	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/pkg/logger"
)

type ReviewsHandler struct {
	engine *reputation.Engine
}

func NewReviewsHandler(engine *reputation.Engine) *ReviewsHandler {
	return &ReviewsHandler{engine: engine}
}

// Submit persists a review and returns immediately; the reputation update
// it triggers happens in the background.
func (h *ReviewsHandler) Submit(c *fiber.Ctx) error {
	var req struct {
		Rating     string                 `json:"rating"`
		Comment    string                 `json:"comment"`
		ReviewerID string                 `json:"reviewer_id"`
		Metadata   map[string]interface{} `json:"metadata"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "invalid_request",
		})
	}

	review, err := h.engine.SubmitReview(c.Context(), c.Params("id"), reputation.ReviewInput{
		Rating:     models.Rating(req.Rating),
		Comment:    req.Comment,
		ReviewerID: req.ReviewerID,
		Metadata:   req.Metadata,
	})
	if err != nil {
		if errors.Is(err, reputation.ErrAgentNotFound) {
			return agentNotFound(c)
		}
		if errors.Is(err, reputation.ErrInvalidRating) || errors.Is(err, reputation.ErrCommentTooLong) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "validation_error",
			})
		}
		logger.Error("Failed to submit review", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to submit review",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         review.ID,
		"rating":     review.Rating,
		"created_at": review.CreatedAt,
	})
}

func (h *ReviewsHandler) List(c *fiber.Ctx) error {
	reviews, err := h.engine.ListReviews(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, reputation.ErrAgentNotFound) {
			return agentNotFound(c)
		}
		logger.Error("Failed to list reviews", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list reviews",
		})
	}

	if reviews == nil {
		reviews = []models.Review{}
	}
	return c.JSON(fiber.Map{
		"reviews": reviews,
		"total":   len(reviews),
	})
}
