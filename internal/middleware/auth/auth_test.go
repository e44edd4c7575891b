package auth

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
	"github.com/aip-dev/registry/pkg/utils"
)

func newAuthApp(t *testing.T, scope Scope) (*fiber.App, *sqlite.Client) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	app := fiber.New()
	app.Get("/protected", New(db).Require(scope), func(c *fiber.Ctx) error {
		key := FromContext(c)
		return c.JSON(fiber.Map{"key_id": key.ID})
	})
	return app, db
}

func seedKey(t *testing.T, db *sqlite.Client, raw string, mutate func(*models.APIKey)) {
	t.Helper()

	key := &models.APIKey{
		ID:        "key-1",
		Name:      "test",
		KeyHash:   utils.HashAPIKey(raw),
		CanRead:   true,
		CanWrite:  true,
		CreatedAt: time.Now().UTC(),
	}
	if mutate != nil {
		mutate(key)
	}
	require.NoError(t, db.InsertAPIKey(key))
}

func request(t *testing.T, app *fiber.App, token string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestRequireMissingKey(t *testing.T) {
	app, _ := newAuthApp(t, ScopeWrite)

	resp := request(t, app, "")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireUnknownKey(t *testing.T) {
	app, _ := newAuthApp(t, ScopeWrite)

	resp := request(t, app, "aip_deadbeef")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireValidKey(t *testing.T) {
	app, db := newAuthApp(t, ScopeWrite)
	seedKey(t, db, "aip_secret", nil)

	resp := request(t, app, "aip_secret")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireRevokedKey(t *testing.T) {
	app, db := newAuthApp(t, ScopeWrite)
	seedKey(t, db, "aip_secret", nil)
	require.NoError(t, db.RevokeAPIKey("key-1"))

	resp := request(t, app, "aip_secret")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireExpiredKey(t *testing.T) {
	app, db := newAuthApp(t, ScopeWrite)
	seedKey(t, db, "aip_secret", func(k *models.APIKey) {
		past := time.Now().Add(-time.Hour)
		k.ExpiresAt = &past
	})

	resp := request(t, app, "aip_secret")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireScopeDenied(t *testing.T) {
	app, db := newAuthApp(t, ScopeDelete)
	seedKey(t, db, "aip_secret", nil) // read+write only

	resp := request(t, app, "aip_secret")
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestAdminKeyHasAllScopes(t *testing.T) {
	app, db := newAuthApp(t, ScopeDelete)
	seedKey(t, db, "aip_secret", func(k *models.APIKey) {
		k.CanRead = false
		k.CanWrite = false
		k.IsAdmin = true
	})

	resp := request(t, app, "aip_secret")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
