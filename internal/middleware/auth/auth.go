// Package auth implements API-key authentication. Keys are presented as
// bearer tokens; only their SHA-256 hashes are stored.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
	"github.com/aip-dev/registry/pkg/logger"
	"github.com/aip-dev/registry/pkg/utils"
)

type Scope string

const (
	ScopeRead   Scope = "read"
	ScopeWrite  Scope = "write"
	ScopeDelete Scope = "delete"
	ScopeAdmin  Scope = "admin"
)

const localsKey = "api_key"

type Middleware struct {
	db *sqlite.Client
}

func New(db *sqlite.Client) *Middleware {
	return &Middleware{db: db}
}

// Optional resolves a presented API key into the request context without
// rejecting anything. It runs early so later middleware (the rate limiter)
// can key on the caller's identity; Require does the actual gating.
func (m *Middleware) Optional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Next()
		}

		key, err := m.db.GetAPIKeyByHash(utils.HashAPIKey(token))
		if err == nil && !key.Revoked {
			c.Locals(localsKey, key)
		}
		return c.Next()
	}
}

// Require returns a handler that rejects requests whose API key is missing,
// invalid, or lacks the given scope.
func (m *Middleware) Require(scope Scope) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key required",
				"code":  "unauthorized",
			})
		}

		key, err := m.db.GetAPIKeyByHash(utils.HashAPIKey(token))
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
				"code":  "unauthorized",
			})
		}
		if err != nil {
			logger.Error("API key lookup failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Authentication unavailable",
			})
		}

		if key.Revoked {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key revoked",
				"code":  "unauthorized",
			})
		}
		if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key expired",
				"code":  "unauthorized",
			})
		}

		if !hasScope(key, scope) {
			logger.Warn("API key lacks scope",
				zap.String("key_id", key.ID),
				zap.String("scope", string(scope)),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "API key lacks required permission",
				"code":  "forbidden",
			})
		}

		c.Locals(localsKey, key)
		return c.Next()
	}
}

// FromContext returns the authenticated key, or nil for anonymous requests.
func FromContext(c *fiber.Ctx) *models.APIKey {
	key, _ := c.Locals(localsKey).(*models.APIKey)
	return key
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func hasScope(key *models.APIKey, scope Scope) bool {
	if key.IsAdmin {
		return true
	}
	switch scope {
	case ScopeRead:
		return key.CanRead
	case ScopeWrite:
		return key.CanWrite
	case ScopeDelete:
		return key.CanDelete
	case ScopeAdmin:
		return false
	}
	return false
}
