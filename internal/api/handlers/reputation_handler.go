package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/reputation"
	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/pkg/logger"
)

type ReputationHandler struct {
	engine *reputation.Engine
}

func NewReputationHandler(engine *reputation.Engine) *ReputationHandler {
	return &ReputationHandler{engine: engine}
}

// GetScore returns the agent's reputation. An agent that has never been
// scored gets its score computed on this first read.
func (h *ReputationHandler) GetScore(c *fiber.Ctx) error {
	result, err := h.engine.GetScore(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, reputation.ErrAgentNotFound) {
			return agentNotFound(c)
		}
		logger.Error("Failed to get reputation score", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get reputation score",
		})
	}

	return c.JSON(result)
}

// Recalculate forces a fresh computation and returns the new tuple.
func (h *ReputationHandler) Recalculate(c *fiber.Ctx) error {
	result, err := h.engine.Recalculate(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, reputation.ErrAgentNotFound) {
			return agentNotFound(c)
		}
		logger.Error("Failed to recalculate reputation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to recalculate reputation",
		})
	}

	return c.JSON(result)
}

func (h *ReputationHandler) Top(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	scores, err := h.engine.TopScores(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to list top scores", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list top scores",
		})
	}

	if scores == nil {
		scores = []models.ReputationScore{}
	}
	return c.JSON(fiber.Map{
		"scores": scores,
		"total":  len(scores),
	})
}
