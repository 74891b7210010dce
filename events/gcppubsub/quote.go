package gcppubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	ev "github.com/tranz-r/quote-engine/events/events"
)

const (
	sessionIDAttribute = "sessionId"
)

// subscriptionInfo holds details about an active Pub/Sub subscription.
type subscriptionInfo struct {
	gcpSubscription *pubsub.Subscription
	cancel          context.CancelFunc
}

// GenericPubSubService provides a generic implementation for GCP Pub/Sub
// operations over one topic. Messages carry the guest session id as an
// attribute so subscriptions can filter server-side.
type GenericPubSubService[M ev.TopicProvider] struct {
	client              *pubsub.Client
	topic               *pubsub.Topic
	activeSubscriptions map[uuid.UUID]*subscriptionInfo
	subscriptionsMutex  sync.Mutex
	ctx                 context.Context
}

// NewGenericPubSubService creates a generic service for a specific message
// type, creating the underlying topic if it does not exist yet.
func NewGenericPubSubService[M ev.TopicProvider](ctx context.Context, client *pubsub.Client, topicID string) (*GenericPubSubService[M], error) {
	if client == nil {
		return nil, fmt.Errorf("GCP Pub/Sub client is nil")
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existence of topic %s: %w", topicID, err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("failed to create topic %s: %w", topicID, err)
		}
		log.Printf("Created Pub/Sub topic: %s", topicID)
	}

	return &GenericPubSubService[M]{
		client:              client,
		topic:               topic,
		activeSubscriptions: make(map[uuid.UUID]*subscriptionInfo),
		ctx:                 ctx,
	}, nil
}

// Publish sends a message to the configured topic with the session id as
// an attribute.
func (s *GenericPubSubService[M]) Publish(msg M) error {
	typeName := reflect.TypeOf(msg).Name()
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", typeName, err)
	}

	pubsubMsg := &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			sessionIDAttribute: msg.GetTopic().String(),
		},
	}

	result := s.topic.Publish(s.ctx, pubsubMsg)
	_, err = result.Get(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to publish %s to topic %s: %w", typeName, s.topic.ID(), err)
	}
	return nil
}

// Subscribe creates a new session-filtered subscription on GCP and starts
// listening for messages.
func (s *GenericPubSubService[M]) Subscribe(sessionID uuid.UUID) (uuid.UUID, <-chan M, error) {
	subscriptionID := uuid.New()
	typeName := reflect.TypeOf(*new(M)).Name()

	gcpSubName := fmt.Sprintf("sub-%s-%s-%s", typeName, sessionID.String(), subscriptionID.String())

	config := pubsub.SubscriptionConfig{
		Topic:            s.topic,
		ExpirationPolicy: 24 * time.Hour,
		AckDeadline:      10 * time.Second,
	}
	if sessionID != uuid.Nil {
		config.Filter = fmt.Sprintf("attributes.%s = \"%s\"", sessionIDAttribute, sessionID.String())
	}

	gcpSub, err := s.client.CreateSubscription(s.ctx, gcpSubName, config)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to create GCP subscription %s for %s: %w", gcpSubName, typeName, err)
	}

	msgChan := make(chan M, 5)
	receiveCtx, cancel := context.WithCancel(s.ctx)

	s.subscriptionsMutex.Lock()
	s.activeSubscriptions[subscriptionID] = &subscriptionInfo{
		gcpSubscription: gcpSub,
		cancel:          cancel,
	}
	s.subscriptionsMutex.Unlock()

	go func() {
		defer func() {
			s.subscriptionsMutex.Lock()
			delete(s.activeSubscriptions, subscriptionID)
			s.subscriptionsMutex.Unlock()

			// Delete the subscription from GCP to prevent resource leaks.
			if deleteErr := gcpSub.Delete(context.Background()); deleteErr != nil {
				log.Printf("Error deleting GCP subscription %s: %v", gcpSub.ID(), deleteErr)
			}
			close(msgChan)
		}()

		// Receive blocks until the context is cancelled.
		err := gcpSub.Receive(receiveCtx, func(ctx context.Context, pubsubMsg *pubsub.Message) {
			pubsubMsg.Ack()

			var msg M
			if err := json.Unmarshal(pubsubMsg.Data, &msg); err != nil {
				log.Printf("Error unmarshaling %s for %s: %v. Body: %s", typeName, subscriptionID, err, string(pubsubMsg.Data))
				return
			}

			select {
			case msgChan <- msg:
			case <-time.After(2 * time.Second):
				log.Printf("Timeout sending %s to msgChan for %s.", typeName, subscriptionID)
			case <-receiveCtx.Done():
				return
			}
		})

		if err != nil && err != context.Canceled {
			log.Printf("Error in Receive loop for %s subscription %s: %v", typeName, subscriptionID, err)
		}
	}()

	return subscriptionID, msgChan, nil
}

// DeSubscribe stops the message receiver and deletes the subscription from
// GCP.
func (s *GenericPubSubService[M]) DeSubscribe(id uuid.UUID) error {
	s.subscriptionsMutex.Lock()
	info, ok := s.activeSubscriptions[id]
	if ok {
		// Removed from the map inside the goroutine's defer block; here we
		// just trigger the cancellation.
		info.cancel()
	}
	s.subscriptionsMutex.Unlock()

	if !ok {
		return fmt.Errorf("subscription ID %s not found for %s service", id, reflect.TypeOf(*new(M)).Name())
	}
	return nil
}

// Close gracefully shuts down all active subscriptions for this service.
func (s *GenericPubSubService[M]) Close() {
	s.subscriptionsMutex.Lock()
	defer s.subscriptionsMutex.Unlock()

	for _, info := range s.activeSubscriptions {
		info.cancel()
	}
}

// --- quote event queue implementation ---

type quoteEventMQ struct {
	genericService *GenericPubSubService[ev.QuoteEventMessage]
	action         ev.Action
}

func NewQuoteEventMessageQueue(ctx context.Context, client *pubsub.Client, action ev.Action) (*quoteEventMQ, error) {
	topicID := fmt.Sprintf("quote-event-%s", action.String())
	gs, err := NewGenericPubSubService[ev.QuoteEventMessage](ctx, client, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to create generic service for QuoteEvent: %w", err)
	}
	return &quoteEventMQ{genericService: gs, action: action}, nil
}

func (q *quoteEventMQ) GetAction() ev.Action                   { return q.action }
func (q *quoteEventMQ) Publish(msg ev.QuoteEventMessage) error { return q.genericService.Publish(msg) }
func (q *quoteEventMQ) Subscribe(sessionID uuid.UUID) (uuid.UUID, <-chan ev.QuoteEventMessage, error) {
	return q.genericService.Subscribe(sessionID)
}
func (q *quoteEventMQ) DeSubscribe(id uuid.UUID) error { return q.genericService.DeSubscribe(id) }

// --- hydration phase queue implementation ---

type hydrationPhaseMQ struct {
	genericService *GenericPubSubService[ev.HydrationPhaseMessage]
}

func NewHydrationPhaseMessageQueue(ctx context.Context, client *pubsub.Client) (*hydrationPhaseMQ, error) {
	gs, err := NewGenericPubSubService[ev.HydrationPhaseMessage](ctx, client, "hydration-phase")
	if err != nil {
		return nil, fmt.Errorf("failed to create generic service for HydrationPhase: %w", err)
	}
	return &hydrationPhaseMQ{genericService: gs}, nil
}

func (q *hydrationPhaseMQ) Publish(msg ev.HydrationPhaseMessage) error {
	return q.genericService.Publish(msg)
}
func (q *hydrationPhaseMQ) Subscribe(sessionID uuid.UUID) (uuid.UUID, <-chan ev.HydrationPhaseMessage, error) {
	return q.genericService.Subscribe(sessionID)
}
func (q *hydrationPhaseMQ) DeSubscribe(id uuid.UUID) error { return q.genericService.DeSubscribe(id) }

// --------- quote event bus wrapper implementation ---------

type GCPQuoteEventBus struct {
	QuoteMQArray [ev.ActionCnt]*quoteEventMQ
	HydrationMQ  *hydrationPhaseMQ
}

// NewGCPQuoteEventBus creates every topic up front.
func NewGCPQuoteEventBus(ctx context.Context, client *pubsub.Client) (ev.QuoteEventBus, error) {
	bus := &GCPQuoteEventBus{}
	for action := ev.Action(0); action < ev.ActionCnt; action++ {
		q, err := NewQuoteEventMessageQueue(ctx, client, action)
		if err != nil {
			return nil, err
		}
		bus.QuoteMQArray[action] = q
	}
	hydration, err := NewHydrationPhaseMessageQueue(ctx, client)
	if err != nil {
		return nil, err
	}
	bus.HydrationMQ = hydration
	return bus, nil
}

func (b *GCPQuoteEventBus) GetQuoteEventQueue(action ev.Action) ev.QuoteEventQueue {
	if action < 0 || action >= ev.ActionCnt || b.QuoteMQArray[action] == nil {
		return nil
	}
	return b.QuoteMQArray[action]
}

func (b *GCPQuoteEventBus) GetHydrationPhaseQueue() ev.HydrationPhaseQueue {
	return b.HydrationMQ
}
