package events

import (
	"github.com/google/uuid"

	"github.com/tranz-r/quote-engine/quote"
)

// Mode selects the bus implementation at startup.
type Mode string

const (
	ModeGoChan   Mode = "go_chan"
	ModeRabbitMQ Mode = "rabbitmq"
	ModeGCP      Mode = "gcp_pub_sub"
)

type Action int

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionDelete
	ActionCnt
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

// QuoteEventMessage announces a lifecycle change of one quote draft. The
// guest session id is the topic: admin consumers subscribe per session.
type QuoteEventMessage struct {
	SessionID uuid.UUID       `json:"sessionId"`
	QuoteType quote.QuoteType `json:"quoteType"`
	Reference string          `json:"reference,omitempty"`
}

func (m QuoteEventMessage) GetTopic() uuid.UUID { return m.SessionID }

// HydrationPhaseMessage announces a hydration phase transition, so tests
// and dashboards can observe startup ordering.
type HydrationPhaseMessage struct {
	SessionID uuid.UUID `json:"sessionId"`
	Phase     string    `json:"phase"`
}

func (m HydrationPhaseMessage) GetTopic() uuid.UUID { return m.SessionID }
