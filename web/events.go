package web

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	ev "github.com/tranz-r/quote-engine/events/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// allow all origins for WebSocket connections
		// should only in dev
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const keepAlivePingInterval = 10 * time.Second

// wsEvent is one quote lifecycle change pushed to a websocket consumer.
type wsEvent struct {
	Action    string    `json:"action"`
	SessionID uuid.UUID `json:"sessionId"`
	QuoteType string    `json:"quoteType"`
	Reference string    `json:"reference,omitempty"`
}

// StreamEvents answers GET /api/events with a websocket that pushes every
// quote lifecycle event for one session. sessionId=<uuid> scopes the
// stream; omitting it streams every session (support dashboards).
func (h *Handler) StreamEvents(c *gin.Context) {
	sessionID := uuid.Nil
	if raw := c.Query("sessionId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed sessionId"})
			return
		}
		sessionID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[web] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	type subscription struct {
		action ev.Action
		id     uuid.UUID
		ch     <-chan ev.QuoteEventMessage
	}
	subs := make([]subscription, 0, int(ev.ActionCnt))
	for action := ev.ActionCreate; action < ev.ActionCnt; action++ {
		queue := h.bus.GetQuoteEventQueue(action)
		id, ch, err := queue.Subscribe(sessionID)
		if err != nil {
			log.Printf("[web] failed to subscribe %s events: %v", action, err)
			continue
		}
		subs = append(subs, subscription{action: action, id: id, ch: ch})
		defer h.bus.GetQuoteEventQueue(action).DeSubscribe(id)
	}

	// Funnel every queue into one channel the write loop can select on.
	merged := make(chan wsEvent, 16)
	done := make(chan struct{})
	defer close(done)
	for _, sub := range subs {
		go func(sub subscription) {
			for msg := range sub.ch {
				select {
				case merged <- wsEvent{
					Action:    sub.action.String(),
					SessionID: msg.SessionID,
					QuoteType: string(msg.QuoteType),
					Reference: msg.Reference,
				}:
				case <-done:
					return
				}
			}
		}(sub)
	}

	// Read loop only watches for the peer closing the socket.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(keepAlivePingInterval)
	defer ticker.Stop()
	for {
		select {
		case event := <-merged:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
