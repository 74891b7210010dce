package events

import "github.com/google/uuid"

// TopicProvider is anything that can say which session topic it belongs to.
type TopicProvider interface {
	GetTopic() uuid.UUID
}

// QuoteEventQueue carries QuoteEventMessages for one action. Subscribe with
// uuid.Nil to receive every session's events.
type QuoteEventQueue interface {
	GetAction() Action
	Publish(msg QuoteEventMessage) error
	Subscribe(sessionID uuid.UUID) (uuid.UUID, <-chan QuoteEventMessage, error)
	DeSubscribe(id uuid.UUID) error
}

// HydrationPhaseQueue carries hydration phase transitions.
type HydrationPhaseQueue interface {
	Publish(msg HydrationPhaseMessage) error
	Subscribe(sessionID uuid.UUID) (uuid.UUID, <-chan HydrationPhaseMessage, error)
	DeSubscribe(id uuid.UUID) error
}

// QuoteEventBus bundles the per-action quote queues and the hydration
// phase queue behind one accessor, so implementations can be swapped by
// Mode at startup.
type QuoteEventBus interface {
	GetQuoteEventQueue(action Action) QuoteEventQueue
	GetHydrationPhaseQueue() HydrationPhaseQueue
}
