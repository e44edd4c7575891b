// Package webhook delivers registry events to externally registered HTTP
// endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/events"
	"github.com/aip-dev/registry/internal/metrics"
	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/internal/storage/sqlite"
	"github.com/aip-dev/registry/pkg/circuitbreaker"
	"github.com/aip-dev/registry/pkg/logger"
	"github.com/aip-dev/registry/pkg/retry"
)

type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	QueueSize   int
}

// Dispatcher consumes registry events from the bus and POSTs them to every
// subscribed webhook. Each endpoint gets its own circuit breaker so one
// dead receiver cannot consume the retry budget of the others.
type Dispatcher struct {
	db         *sqlite.Client
	httpClient *http.Client
	cfg        Config

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker

	cancel func()
	done   chan struct{}
}

func NewDispatcher(db *sqlite.Client, cfg Config) *Dispatcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}

	return &Dispatcher{
		db:         db,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		breakers:   make(map[string]*circuitbreaker.CircuitBreaker),
		done:       make(chan struct{}),
	}
}

// Start subscribes to the bus and begins delivering in a worker goroutine.
func (d *Dispatcher) Start(bus *events.Bus) {
	ch, cancel := bus.Subscribe(d.cfg.QueueSize)
	d.cancel = cancel

	go func() {
		defer close(d.done)
		for event := range ch {
			d.deliverEvent(event)
		}
	}()

	logger.Info("Webhook dispatcher started")
}

// Stop unsubscribes and waits for in-flight deliveries to finish.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

func (d *Dispatcher) deliverEvent(event events.Event) {
	hooks, err := d.db.ListWebhooks(event.Type)
	if err != nil {
		logger.Error("Failed to list webhooks", zap.String("event", event.Type), zap.Error(err))
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal event", zap.String("event", event.Type), zap.Error(err))
		return
	}

	for _, hook := range hooks {
		d.deliver(hook, event.Type, body)
	}
}

func (d *Dispatcher) deliver(hook models.Webhook, eventType string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout*time.Duration(d.cfg.MaxAttempts))
	defer cancel()

	attempts := 0
	statusCode := 0

	err := d.breaker(hook.ID).Execute(ctx, func() error {
		return retry.Do(ctx, retry.Config{
			MaxAttempts:  d.cfg.MaxAttempts,
			InitialDelay: 500 * time.Millisecond,
			Logger:       logger.GetLogger(),
		}, func() error {
			attempts++
			code, err := d.post(ctx, hook, body)
			statusCode = code
			return err
		})
	})

	success := err == nil
	if success {
		metrics.WebhookDeliveries.WithLabelValues("success").Inc()
	} else {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		logger.Warn("Webhook delivery failed",
			zap.String("webhook_id", hook.ID),
			zap.String("event", eventType),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}

	record := &models.WebhookDelivery{
		WebhookID:  hook.ID,
		Event:      eventType,
		StatusCode: statusCode,
		Success:    success,
		Attempts:   attempts,
	}
	if err := d.db.RecordDelivery(record); err != nil {
		logger.Error("Failed to record webhook delivery", zap.String("webhook_id", hook.ID), zap.Error(err))
	}
}

func (d *Dispatcher) post(ctx context.Context, hook models.Webhook, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AIP-Signature", sign(hook.Secret, body))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) breaker(webhookID string) *circuitbreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.breakers[webhookID]
	if !ok {
		cb = circuitbreaker.New("webhook:"+webhookID, circuitbreaker.Config{
			MaxRequests:      1,
			Timeout:          time.Minute,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Logger:           logger.GetLogger(),
		})
		d.breakers[webhookID] = cb
	}
	return cb
}

// sign computes the hex HMAC-SHA256 of the payload, sent so receivers can
// verify the event came from this registry.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
