package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/events"
	"github.com/aip-dev/registry/pkg/logger"
)

// EventsHandler streams registry lifecycle events over a websocket. Slow
// clients miss events rather than backpressuring the registry.
type EventsHandler struct {
	bus *events.Bus
}

func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

func (h *EventsHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Event stream connection established")

	ch, cancel := h.bus.Subscribe(64)
	defer func() {
		cancel()
		c.Close()
		logger.Info("Event stream connection closed")
	}()

	// Drain client frames so close/ping control messages are processed;
	// the stream is one-way otherwise.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for event := range ch {
		if err := c.WriteJSON(event); err != nil {
			logger.Debug("Failed to write event to websocket", zap.Error(err))
			return
		}
	}
}
