package progress

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/interfaces"
	"github.com/Felyppe1/certmill/internal/models"
)

const subscriberBufferSize = 16

type subscriber struct {
	id     string
	events chan models.ProgressEvent
}

// Broker fans progress events out to subscribers keyed by resource id.
// Publishing to a resource nobody watches is a no-op, and a subscriber
// that stops draining its channel is dropped rather than blocking the
// publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber
	logger      arbor.ILogger
	closed      bool
}

// NewBroker creates an in-process progress event broker.
func NewBroker(logger arbor.ILogger) *Broker {
	return &Broker{
		subscribers: make(map[string]map[string]*subscriber),
		logger:      logger,
	}
}

func (b *Broker) Subscribe(resourceID string) *interfaces.ProgressSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		id:     common.NewSubscriberID(),
		events: make(chan models.ProgressEvent, subscriberBufferSize),
	}

	if b.closed {
		close(sub.events)
		return &interfaces.ProgressSubscription{ID: sub.id, Events: sub.events}
	}

	if b.subscribers[resourceID] == nil {
		b.subscribers[resourceID] = make(map[string]*subscriber)
	}
	b.subscribers[resourceID][sub.id] = sub

	b.logger.Debug().
		Str("resource_id", resourceID).
		Str("subscriber_id", sub.id).
		Int("subscribers", len(b.subscribers[resourceID])).
		Msg("Progress subscriber added")

	return &interfaces.ProgressSubscription{ID: sub.id, Events: sub.events}
}

func (b *Broker) Unsubscribe(resourceID, subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[resourceID]
	if !ok {
		return
	}
	sub, ok := subs[subscriptionID]
	if !ok {
		return
	}

	delete(subs, subscriptionID)
	if len(subs) == 0 {
		delete(b.subscribers, resourceID)
	}
	close(sub.events)

	b.logger.Debug().
		Str("resource_id", resourceID).
		Str("subscriber_id", subscriptionID).
		Msg("Progress subscriber removed")
}

func (b *Broker) Publish(resourceID string, event models.ProgressEvent) {
	// Sends stay under the read lock: channels are only closed under the
	// write lock, so a send can never hit a closed channel. The sends are
	// non-blocking, so holding the lock here cannot deadlock a publisher.
	b.mu.RLock()
	var stale []string
	for _, sub := range b.subscribers[resourceID] {
		select {
		case sub.events <- event:
		default:
			// Full buffer means the consumer stopped reading.
			stale = append(stale, sub.id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stale {
		b.logger.Warn().
			Str("resource_id", resourceID).
			Str("subscriber_id", id).
			Msg("Dropping slow progress subscriber")
		b.Unsubscribe(resourceID, id)
	}
}

// Close drops all subscribers and makes further publishes no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for resourceID, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub.events)
		}
		delete(b.subscribers, resourceID)
	}
}
