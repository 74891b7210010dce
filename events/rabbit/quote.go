package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	ev "github.com/tranz-r/quote-engine/events/events"
)

const (
	// All quote-related events go through this exchange.
	exchangeName = "quote_events_exchange"
)

const (
	quoteCreateRoutingKey    = "quote.create"
	quoteUpdateRoutingKey    = "quote.update"
	quoteDeleteRoutingKey    = "quote.delete"
	hydrationPhaseRoutingKey = "hydration.phase"
)

func quoteRoutingKey(action ev.Action) string {
	switch action {
	case ev.ActionCreate:
		return quoteCreateRoutingKey
	case ev.ActionUpdate:
		return quoteUpdateRoutingKey
	case ev.ActionDelete:
		return quoteDeleteRoutingKey
	}
	return ""
}

// rabbitQueue is the shared AMQP plumbing for one routing key and one
// message type. Session filtering happens consumer-side: the topic
// exchange fans out per action, each subscriber drops messages for other
// sessions.
type rabbitQueue[M ev.TopicProvider] struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queueName  string
	routingKey string

	mu        sync.RWMutex
	consumers map[uuid.UUID]rabbitConsumer[M]
}

type rabbitConsumer[M any] struct {
	topic uuid.UUID
	ch    chan M
}

func newRabbitQueue[M ev.TopicProvider](conn *amqp091.Connection, queueName, routingKey string) (*rabbitQueue[M], error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := DeclareQueueAndExchange(ch, queueName, exchangeName, routingKey); err != nil {
		ch.Close()
		return nil, err
	}

	return &rabbitQueue[M]{
		conn:       conn,
		channel:    ch,
		queueName:  queueName,
		routingKey: routingKey,
		consumers:  make(map[uuid.UUID]rabbitConsumer[M]),
	}, nil
}

func (q *rabbitQueue[M]) Publish(msg M) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = q.channel.PublishWithContext(ctx,
		exchangeName, // exchange
		q.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (q *rabbitQueue[M]) Subscribe(sessionID uuid.UUID) (uuid.UUID, <-chan M, error) {
	msgs, err := q.channel.Consume(
		q.queueName, // queue
		"",          // consumer
		true,        // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	subscriberID := uuid.New()
	outputChan := make(chan M)

	q.mu.Lock()
	q.consumers[subscriberID] = rabbitConsumer[M]{topic: sessionID, ch: outputChan}
	q.mu.Unlock()

	go func() {
		defer func() {
			q.mu.Lock()
			if c, ok := q.consumers[subscriberID]; ok {
				close(c.ch)
				delete(q.consumers, subscriberID)
			}
			q.mu.Unlock()
		}()

		for d := range msgs {
			var msg M
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				log.Printf("Failed to unmarshal %s message: %v", q.routingKey, err)
				continue
			}

			q.mu.RLock()
			c, ok := q.consumers[subscriberID]
			q.mu.RUnlock()
			if !ok {
				// Consumer was unsubscribed while the message was in flight.
				return
			}
			if c.topic != uuid.Nil && c.topic != msg.GetTopic() {
				continue
			}
			select {
			case c.ch <- msg:
			case <-time.After(1 * time.Second):
				log.Printf("Timeout sending %s message to consumer %s. Skipping.", q.routingKey, subscriberID)
			}
		}
	}()

	return subscriberID, outputChan, nil
}

func (q *rabbitQueue[M]) DeSubscribe(id uuid.UUID) error {
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

// rabbitQuoteEventQueue implements ev.QuoteEventQueue for one action.
type rabbitQuoteEventQueue struct {
	action ev.Action
	*rabbitQueue[ev.QuoteEventMessage]
}

func (q *rabbitQuoteEventQueue) GetAction() ev.Action { return q.action }

// NewRabbitQuoteEventQueue creates the AMQP-backed queue for one quote
// action.
func NewRabbitQuoteEventQueue(action ev.Action, conn *amqp091.Connection) (ev.QuoteEventQueue, error) {
	queueName := fmt.Sprintf("quote_event_%d_queue", action)
	inner, err := newRabbitQueue[ev.QuoteEventMessage](conn, queueName, quoteRoutingKey(action))
	if err != nil {
		return nil, err
	}
	return &rabbitQuoteEventQueue{action: action, rabbitQueue: inner}, nil
}

// NewRabbitHydrationPhaseQueue creates the AMQP-backed hydration phase
// queue.
func NewRabbitHydrationPhaseQueue(conn *amqp091.Connection) (ev.HydrationPhaseQueue, error) {
	return newRabbitQueue[ev.HydrationPhaseMessage](conn, "hydration_phase_queue", hydrationPhaseRoutingKey)
}

// RabbitQuoteEventBus implements ev.QuoteEventBus over one AMQP
// connection.
type RabbitQuoteEventBus struct {
	quoteQueues [ev.ActionCnt]ev.QuoteEventQueue
	hydration   ev.HydrationPhaseQueue
}

// NewRabbitQuoteEventBus declares every queue up front so a broker
// misconfiguration fails at startup, not at first publish.
func NewRabbitQuoteEventBus(conn *amqp091.Connection) (ev.QuoteEventBus, error) {
	bus := &RabbitQuoteEventBus{}
	for action := ev.Action(0); action < ev.ActionCnt; action++ {
		q, err := NewRabbitQuoteEventQueue(action, conn)
		if err != nil {
			return nil, err
		}
		bus.quoteQueues[action] = q
	}
	hydration, err := NewRabbitHydrationPhaseQueue(conn)
	if err != nil {
		return nil, err
	}
	bus.hydration = hydration
	return bus, nil
}

func (b *RabbitQuoteEventBus) GetQuoteEventQueue(action ev.Action) ev.QuoteEventQueue {
	if action < 0 || action >= ev.ActionCnt {
		return nil
	}
	return b.quoteQueues[action]
}

func (b *RabbitQuoteEventBus) GetHydrationPhaseQueue() ev.HydrationPhaseQueue {
	return b.hydration
}
