package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/Felyppe1/certmill/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler mirrors the SSE progress stream for clients that prefer
// a socket. One connection watches one emission.
type WebSocketHandler struct {
	broker   interfaces.ProgressBroker
	connRate *rate.Limiter
	logger   arbor.ILogger
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(broker interfaces.ProgressBroker, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		broker: broker,
		// Upgrades are cheap but not free; cap connection churn.
		connRate: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		logger:   logger,
	}
}

// HandleWebSocket streams progress events for one emission.
// GET /ws?emission={id}
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	emissionID := r.URL.Query().Get("emission")
	if emissionID == "" {
		WriteError(w, http.StatusBadRequest, "", "Query parameter emission is required")
		return
	}

	if !h.connRate.Allow() {
		WriteError(w, http.StatusTooManyRequests, "", "Too many connection attempts")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe(emissionID)
	defer h.broker.Unsubscribe(emissionID, sub.ID)

	h.logger.Debug().
		Str("emission_id", emissionID).
		Str("subscriber_id", sub.ID).
		Msg("WebSocket client connected")

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(map[string]bool{"connected": true}); err != nil {
		return
	}

	// Reader goroutine: we never expect messages, but reading surfaces
	// close frames and dead connections.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, open := <-sub.Events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug().Err(err).Str("emission_id", emissionID).Msg("WebSocket write failed")
				return
			}

		case <-done:
			return

		case <-r.Context().Done():
			return
		}
	}
}
