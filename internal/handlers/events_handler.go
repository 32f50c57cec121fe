package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/interfaces"
)

const ssePingInterval = 30 * time.Second

// EventsHandler streams progress events to browsers over Server-Sent Events.
type EventsHandler struct {
	broker interfaces.ProgressBroker
	logger arbor.ILogger
}

// NewEventsHandler creates a new SSE events handler
func NewEventsHandler(broker interfaces.ProgressBroker, logger arbor.ILogger) *EventsHandler {
	return &EventsHandler{broker: broker, logger: logger}
}

// StreamHandler subscribes the client to an emission's progress events.
// GET /api/emissions/{id}/events
func (h *EventsHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	emissionID := PathSegment(r.URL.Path, "/api/emissions/", 0)
	if emissionID == "" {
		WriteError(w, http.StatusBadRequest, "", "Missing emission id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "", "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := h.broker.Subscribe(emissionID)
	defer h.broker.Unsubscribe(emissionID, sub.ID)

	h.logger.Debug().
		Str("emission_id", emissionID).
		Str("subscriber_id", sub.ID).
		Msg("SSE client connected")

	// First frame confirms the subscription before any event arrives.
	fmt.Fprintf(w, "data: {\"connected\":true}\n\n")
	flusher.Flush()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case event, open := <-sub.Events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn().Err(err).Msg("Failed to marshal progress event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()

		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			h.logger.Debug().
				Str("emission_id", emissionID).
				Str("subscriber_id", sub.ID).
				Msg("SSE client disconnected")
			return
		}
	}
}
