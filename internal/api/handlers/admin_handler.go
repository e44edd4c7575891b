package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
	"github.com/aip-dev/registry/pkg/logger"
	"github.com/aip-dev/registry/pkg/utils"
)

type AdminHandler struct {
	db *sqlite.Client
}

func NewAdminHandler(db *sqlite.Client) *AdminHandler {
	return &AdminHandler{db: db}
}

// CreateAPIKey mints a new key. The raw key is returned exactly once; only
// its hash is stored.
func (h *AdminHandler) CreateAPIKey(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		CanRead     *bool  `json:"can_read"`
		CanWrite    bool   `json:"can_write"`
		CanDelete   bool   `json:"can_delete"`
		IsAdmin     bool   `json:"is_admin"`
		RateLimit   int    `json:"rate_limit"`
		ExpiresDays int    `json:"expires_days"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "invalid_request",
		})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
			"code":  "validation_error",
		})
	}

	rawKey, err := generateKey()
	if err != nil {
		logger.Error("Failed to generate api key", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create api key",
		})
	}

	canRead := true
	if req.CanRead != nil {
		canRead = *req.CanRead
	}
	rateLimit := req.RateLimit
	if rateLimit <= 0 {
		rateLimit = 60
	}

	key := &models.APIKey{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		KeyHash:     utils.HashAPIKey(rawKey),
		CanRead:     canRead,
		CanWrite:    req.CanWrite,
		CanDelete:   req.CanDelete,
		IsAdmin:     req.IsAdmin,
		RateLimit:   rateLimit,
		CreatedAt:   time.Now().UTC(),
	}
	if req.ExpiresDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, req.ExpiresDays)
		key.ExpiresAt = &t
	}

	if err := h.db.InsertAPIKey(key); err != nil {
		logger.Error("Failed to store api key", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create api key",
		})
	}

	logger.Info("API key created", zap.String("key_id", key.ID), zap.String("name", key.Name))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         key.ID,
		"name":       key.Name,
		"key":        rawKey,
		"rate_limit": key.RateLimit,
		"expires_at": key.ExpiresAt,
		"created_at": key.CreatedAt,
	})
}

func (h *AdminHandler) ListAPIKeys(c *fiber.Ctx) error {
	keys, err := h.db.ListAPIKeys()
	if err != nil {
		logger.Error("Failed to list api keys", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list api keys",
		})
	}

	if keys == nil {
		keys = []models.APIKey{}
	}
	return c.JSON(fiber.Map{
		"keys":  keys,
		"total": len(keys),
	})
}

func (h *AdminHandler) RevokeAPIKey(c *fiber.Ctx) error {
	err := h.db.RevokeAPIKey(c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "API key not found",
				"code":  "not_found",
			})
		}
		logger.Error("Failed to revoke api key", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to revoke api key",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "aip_" + hex.EncodeToString(buf), nil
}
