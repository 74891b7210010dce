package goch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	ev "github.com/tranz-r/quote-engine/events/events"
)

// channelQueue is an in-process fan-out queue for one message type. Each
// subscriber gets its own channel and a session-topic filter; publishing is
// non-blocking, a full subscriber channel drops the message for that
// subscriber only.
type channelQueue[M ev.TopicProvider] struct {
	bufferSize int

	mu        sync.RWMutex
	consumers map[uuid.UUID]consumer[M]
}

type consumer[M any] struct {
	topic uuid.UUID // uuid.Nil subscribes to every topic
	ch    chan M
}

func newChannelQueue[M ev.TopicProvider](bufferSize int) *channelQueue[M] {
	return &channelQueue[M]{
		bufferSize: bufferSize,
		consumers:  make(map[uuid.UUID]consumer[M]),
	}
}

func (q *channelQueue[M]) Publish(msg M) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, c := range q.consumers {
		if c.topic != uuid.Nil && c.topic != msg.GetTopic() {
			continue
		}
		select {
		case c.ch <- msg:
		default:
			// Slow consumer; drop rather than block the publisher.
		}
	}
	return nil
}

func (q *channelQueue[M]) Subscribe(topic uuid.UUID) (uuid.UUID, <-chan M, error) {
	id := uuid.New()
	ch := make(chan M, q.bufferSize)

	q.mu.Lock()
	q.consumers[id] = consumer[M]{topic: topic, ch: ch}
	q.mu.Unlock()

	return id, ch, nil
}

func (q *channelQueue[M]) DeSubscribe(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, ok := q.consumers[id]
	if !ok {
		return fmt.Errorf("subscriber %s not found", id)
	}
	close(c.ch)
	delete(q.consumers, id)
	return nil
}

// channelQuoteEventQueue adds the action tag around a channelQueue.
type channelQuoteEventQueue struct {
	action ev.Action
	*channelQueue[ev.QuoteEventMessage]
}

func (q *channelQuoteEventQueue) GetAction() ev.Action { return q.action }

// GoChanQuoteEventBus implements ev.QuoteEventBus entirely in process.
type GoChanQuoteEventBus struct {
	quoteQueues [ev.ActionCnt]ev.QuoteEventQueue
	hydration   ev.HydrationPhaseQueue
}

// NewGoChanQuoteEventBus builds the in-process bus. bufferSize sets each
// subscriber channel's capacity; 0 makes delivery best-effort only when a
// consumer is actively receiving.
func NewGoChanQuoteEventBus(bufferSize int) ev.QuoteEventBus {
	bus := &GoChanQuoteEventBus{}
	for action := ev.Action(0); action < ev.ActionCnt; action++ {
		bus.quoteQueues[action] = &channelQuoteEventQueue{
			action:       action,
			channelQueue: newChannelQueue[ev.QuoteEventMessage](bufferSize),
		}
	}
	bus.hydration = newChannelQueue[ev.HydrationPhaseMessage](bufferSize)
	return bus
}

func (b *GoChanQuoteEventBus) GetQuoteEventQueue(action ev.Action) ev.QuoteEventQueue {
	if action < 0 || action >= ev.ActionCnt {
		return nil
	}
	return b.quoteQueues[action]
}

func (b *GoChanQuoteEventBus) GetHydrationPhaseQueue() ev.HydrationPhaseQueue {
	return b.hydration
}
