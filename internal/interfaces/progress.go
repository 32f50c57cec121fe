package interfaces

import (
	"github.com/Felyppe1/certmill/internal/models"
)

// ProgressSubscription is one open client channel on the progress broker.
// Events is closed when the subscription is removed.
type ProgressSubscription struct {
	ID     string
	Events <-chan models.ProgressEvent
}

// ProgressBroker fans live progress events out to subscribers keyed by
// resource (emission) id. Single-process and in-memory: events published in
// another instance are invisible here, so clients must fall back to polling
// the batch read endpoint on reconnect or timeout.
type ProgressBroker interface {
	// Subscribe registers a new channel for a resource id.
	Subscribe(resourceID string) *ProgressSubscription

	// Unsubscribe removes a channel. Removing an unknown handle is a no-op.
	Unsubscribe(resourceID, subscriptionID string)

	// Publish delivers an event to every open channel for the resource id.
	// Publishing with zero subscribers silently drops the event.
	Publish(resourceID string, event models.ProgressEvent)

	// Close drops all subscriptions.
	Close()
}
