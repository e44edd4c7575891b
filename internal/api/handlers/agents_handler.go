package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/registry"
	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/pkg/logger"
)

type AgentsHandler struct {
	service *registry.Service
}

func NewAgentsHandler(service *registry.Service) *AgentsHandler {
	return &AgentsHandler{service: service}
}

func (h *AgentsHandler) Register(c *fiber.Ctx) error {
	var profile models.AgentProfile
	if err := c.BodyParser(&profile); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "invalid_request",
		})
	}

	registered, err := h.service.Register(c.Context(), &profile)
	if err != nil {
		if errors.Is(err, registry.ErrAgentExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Agent ID already registered",
				"code":  "conflict",
			})
		}
		if errors.Is(err, registry.ErrInvalidProfile) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "validation_error",
			})
		}
		logger.Error("Failed to register agent", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to register agent",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":            registered.ID,
		"registered_at": registered.CreatedAt,
	})
}

func (h *AgentsHandler) Get(c *fiber.Ctx) error {
	profile, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			return agentNotFound(c)
		}
		logger.Error("Failed to get agent", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get agent",
		})
	}

	return c.JSON(profile)
}

func (h *AgentsHandler) Update(c *fiber.Ctx) error {
	var profile models.AgentProfile
	if err := c.BodyParser(&profile); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "invalid_request",
		})
	}

	updated, err := h.service.Update(c.Context(), c.Params("id"), &profile)
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			return agentNotFound(c)
		}
		if errors.Is(err, registry.ErrInvalidProfile) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "validation_error",
			})
		}
		logger.Error("Failed to update agent", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update agent",
		})
	}

	return c.JSON(fiber.Map{
		"updated_at": updated.UpdatedAt,
	})
}

func (h *AgentsHandler) Delete(c *fiber.Ctx) error {
	err := h.service.Delete(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			return agentNotFound(c)
		}
		logger.Error("Failed to delete agent", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete agent",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AgentsHandler) Search(c *fiber.Ctx) error {
	skill := c.Query("skill")
	minConfidence := c.QueryFloat("min_confidence", 0.7)
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	if minConfidence < 0 || minConfidence > 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "min_confidence must be in [0,1]",
			"code":  "validation_error",
		})
	}

	result, err := h.service.Search(c.Context(), skill, minConfidence, limit, offset)
	if err != nil {
		logger.Error("Failed to search agents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to search agents",
		})
	}

	return c.JSON(result)
}

func (h *AgentsHandler) SemanticSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "q is required",
			"code":  "validation_error",
		})
	}
	limit := c.QueryInt("limit", 20)

	results, err := h.service.SemanticSearch(c.Context(), query, limit)
	if err != nil {
		if errors.Is(err, registry.ErrSemanticSearchDisabled) {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
				"error": "Semantic search is not enabled on this registry",
				"code":  "not_implemented",
			})
		}
		logger.Error("Semantic search failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Semantic search failed",
		})
	}

	return c.JSON(fiber.Map{
		"results": results,
		"total":   len(results),
	})
}

func (h *AgentsHandler) ReportMetrics(c *fiber.Ctx) error {
	var m models.AgentMetrics
	if err := c.BodyParser(&m); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "invalid_request",
		})
	}

	recordedAt, err := h.service.ReportMetrics(c.Context(), c.Params("id"), &m)
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			return agentNotFound(c)
		}
		if errors.Is(err, registry.ErrInvalidMetrics) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "validation_error",
			})
		}
		logger.Error("Failed to record metrics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record metrics",
		})
	}

	return c.JSON(fiber.Map{
		"recorded_at": recordedAt,
	})
}

func agentNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Agent not found",
		"code":  "not_found",
	})
}
