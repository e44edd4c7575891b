package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowsUpToLimitThenRejects(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 3, WindowDuration: time.Minute})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("client-1", 3), "request %d should pass", i+1)
	}
	assert.False(t, rl.allow("client-1", 3))
}

func TestKeysAreIndependent(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1, WindowDuration: time.Minute})
	defer rl.Stop()

	assert.True(t, rl.allow("client-1", 1))
	assert.False(t, rl.allow("client-1", 1))
	assert.True(t, rl.allow("client-2", 1))
}

func TestTokensRefillOverTime(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 10, WindowDuration: 100 * time.Millisecond})
	defer rl.Stop()

	for i := 0; i < 10; i++ {
		require.True(t, rl.allow("client-1", 10))
	}
	require.False(t, rl.allow("client-1", 10))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, rl.allow("client-1", 10))
}

func TestStopReleasesCleanupGoroutine(t *testing.T) {
	before := runtime.NumGoroutine()

	rl := New(Config{MaxRequestsPerMinute: 1, WindowDuration: time.Minute})
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() > before
	}, time.Second, 5*time.Millisecond)

	rl.Stop()
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 5*time.Millisecond)
}

func TestMiddlewareReturns429(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1, WindowDuration: time.Minute})
	defer rl.Stop()

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}
