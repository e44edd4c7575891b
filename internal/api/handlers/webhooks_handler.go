package handlers

import (
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
	"github.com/aip-dev/registry/pkg/logger"
)

type WebhooksHandler struct {
	db *sqlite.Client
}

func NewWebhooksHandler(db *sqlite.Client) *WebhooksHandler {
	return &WebhooksHandler{db: db}
}

func (h *WebhooksHandler) Create(c *fiber.Ctx) error {
	var req struct {
		URL    string   `json:"url"`
		Secret string   `json:"secret"`
		Events []string `json:"events"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "invalid_request",
		})
	}

	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url must be a valid http(s) URL",
			"code":  "validation_error",
		})
	}
	if req.Secret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "secret is required",
			"code":  "validation_error",
		})
	}
	if len(req.Events) == 0 {
		req.Events = []string{"*"}
	}

	hook := &models.Webhook{
		ID:        uuid.New().String(),
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.db.InsertWebhook(hook); err != nil {
		logger.Error("Failed to create webhook", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create webhook",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(hook)
}

func (h *WebhooksHandler) List(c *fiber.Ctx) error {
	hooks, err := h.db.ListWebhooks("")
	if err != nil {
		logger.Error("Failed to list webhooks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list webhooks",
		})
	}

	if hooks == nil {
		hooks = []models.Webhook{}
	}
	return c.JSON(fiber.Map{
		"webhooks": hooks,
		"total":    len(hooks),
	})
}

func (h *WebhooksHandler) Delete(c *fiber.Ctx) error {
	err := h.db.DeleteWebhook(c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Webhook not found",
				"code":  "not_found",
			})
		}
		logger.Error("Failed to delete webhook", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete webhook",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}
