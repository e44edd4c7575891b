package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aip-dev/registry/internal/events"
	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *sqlite.Client, *events.Bus) {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	d := NewDispatcher(db, Config{
		Timeout:     2 * time.Second,
		MaxAttempts: 2,
		QueueSize:   16,
	})
	bus := events.NewBus()
	d.Start(bus)
	t.Cleanup(d.Stop)

	return d, db, bus
}

func subscribeHook(t *testing.T, db *sqlite.Client, id, url, secret string, eventTypes []string) {
	t.Helper()
	require.NoError(t, db.InsertWebhook(&models.Webhook{
		ID:        id,
		URL:       url,
		Secret:    secret,
		Events:    eventTypes,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestDeliverySignedAndRecorded(t *testing.T) {
	var received atomic.Int32
	var gotSignature string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = body
		gotSignature = r.Header.Get("X-AIP-Signature")
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, db, bus := newTestDispatcher(t)
	subscribeHook(t, db, "hook-1", server.URL, "topsecret", []string{"*"})

	bus.Publish(events.Event{Type: events.ReviewCreated, AgentID: "agent-1"})

	require.Eventually(t, func() bool {
		return received.Load() == 1
	}, 3*time.Second, 20*time.Millisecond)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature)

	var event events.Event
	require.NoError(t, json.Unmarshal(gotBody, &event))
	assert.Equal(t, events.ReviewCreated, event.Type)
	assert.Equal(t, "agent-1", event.AgentID)
}

func TestEventFilteringByType(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, db, bus := newTestDispatcher(t)
	subscribeHook(t, db, "hook-1", server.URL, "s", []string{events.ReputationUpdated})

	bus.Publish(events.Event{Type: events.AgentRegistered, AgentID: "agent-1"})
	bus.Publish(events.Event{Type: events.ReputationUpdated, AgentID: "agent-1"})

	require.Eventually(t, func() bool {
		return received.Load() == 1
	}, 3*time.Second, 20*time.Millisecond)

	// The agent.registered event must never arrive.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), received.Load())
}

func TestFailedDeliveryRetriedAndRecorded(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, db, bus := newTestDispatcher(t)
	subscribeHook(t, db, "hook-1", server.URL, "s", []string{"*"})

	bus.Publish(events.Event{Type: events.ReviewCreated, AgentID: "agent-1"})

	require.Eventually(t, func() bool {
		return attempts.Load() == 2
	}, 5*time.Second, 20*time.Millisecond)
}
