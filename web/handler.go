package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tranz-r/quote-engine/db/db"
	ev "github.com/tranz-r/quote-engine/events/events"
	"github.com/tranz-r/quote-engine/quote"
)

// GuestSessionHeader carries the guest identity on every quote request.
const GuestSessionHeader = "X-Guest-Session"

// ReferencePrefix starts every customer-facing quote reference.
const ReferencePrefix = "TRZ-"

type Handler struct {
	db  db.QuoteDBWrapper
	bus ev.QuoteEventBus
}

func NewHandler(wrapper db.QuoteDBWrapper, bus ev.QuoteEventBus) *Handler {
	return &Handler{db: wrapper, bus: bus}
}

// quoteView is the wire form of one stored quote.
type quoteView struct {
	ID        uuid.UUID          `json:"id"`
	Type      string             `json:"type"`
	Reference string             `json:"reference"`
	SessionID uuid.UUID          `json:"sessionId"`
	Quote     *quote.QuoteRecord `json:"quote,omitempty"`
}

func toView(q db.StoredQuote) quoteView {
	v := quoteView{
		ID:        q.ID,
		Type:      string(q.QuoteType),
		Reference: q.Reference,
		SessionID: q.SessionID,
	}
	if len(q.Payload) > 0 {
		var record quote.QuoteRecord
		if err := json.Unmarshal(q.Payload, &record); err == nil {
			v.Quote = &record
		} else {
			log.Printf("[web] dropping unreadable payload for quote %s: %v", q.ID, err)
		}
	}
	return v
}

func formatEtag(version int64) string {
	return fmt.Sprintf(`W/"v%d"`, version)
}

// etagMatch compares a conditional header against the collection version
// using weak comparison, so `"v3"` and `W/"v3"` both match version 3.
func etagMatch(header string, version int64) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	return strings.TrimPrefix(header, "W/") == strings.TrimPrefix(formatEtag(version), "W/")
}

// mintReference builds a fresh customer-facing reference, TRZ- plus the
// first uuid block uppercased.
func mintReference() string {
	id := uuid.New().String()
	return ReferencePrefix + strings.ToUpper(id[:8])
}

// sessionFrom extracts and validates the guest session header. A missing
// or unknown session aborts with 401.
func (h *Handler) sessionFrom(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader(GuestSessionHeader)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing guest session"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "malformed guest session"})
		return uuid.Nil, false
	}
	return id, true
}

func quoteTypeFrom(c *gin.Context) (quote.QuoteType, bool) {
	t := quote.QuoteType(strings.ToLower(c.Param("type")))
	if !quote.IsValidType(t) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown quote type %q", c.Param("type"))})
		return "", false
	}
	return t, true
}

func (h *Handler) publish(action ev.Action, sessionID uuid.UUID, t quote.QuoteType, reference string) {
	err := h.bus.GetQuoteEventQueue(action).Publish(ev.QuoteEventMessage{
		SessionID: sessionID,
		QuoteType: t,
		Reference: reference,
	})
	if err != nil {
		log.Printf("[web] failed to publish %s event for session %s: %v", action, sessionID, err)
	}
}

// EnsureSession answers POST /api/session. Presenting a known session id
// in the header returns that same id; anything else mints a new session.
func (h *Handler) EnsureSession(c *gin.Context) {
	presented := uuid.Nil
	if raw := c.GetHeader(GuestSessionHeader); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			presented = id
		}
	}
	id, err := h.db.EnsureSession(presented)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"guestId": id})
}

// ListQuotes answers GET /api/quotes with the full collection and its
// ETag. An If-None-Match hit short-circuits to 304.
func (h *Handler) ListQuotes(c *gin.Context) {
	sessionID, ok := h.sessionFrom(c)
	if !ok {
		return
	}
	collection, err := h.db.GetCollection(sessionID)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	etag := formatEtag(collection.Version)
	c.Header("ETag", etag)
	if etagMatch(c.GetHeader("If-None-Match"), collection.Version) {
		c.Status(http.StatusNotModified)
		return
	}
	views := make([]quoteView, 0, len(collection.Quotes))
	for _, q := range collection.Quotes {
		views = append(views, toView(q))
	}
	c.JSON(http.StatusOK, gin.H{"quotes": views})
}

// SelectQuoteType answers POST /api/quotes/select. Activation is
// idempotent: selecting an already-occupied type returns the existing
// quote untouched.
func (h *Handler) SelectQuoteType(c *gin.Context) {
	sessionID, ok := h.sessionFrom(c)
	if !ok {
		return
	}
	var body struct {
		QuoteType string `json:"quoteType"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	t := quote.NormalizeType(body.QuoteType)

	reference := mintReference()
	payload, err := json.Marshal(quote.NewSkeleton(reference))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stored, version, err := h.db.CreateQuote(sessionID, db.StoredQuote{
		ID:        uuid.New(),
		SessionID: sessionID,
		QuoteType: t,
		Reference: reference,
		Payload:   payload,
	})
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if stored.Reference == reference {
		// Slot was free, this call created the quote.
		status = http.StatusCreated
		h.publish(ev.ActionCreate, sessionID, t, stored.Reference)
	}
	c.Header("ETag", formatEtag(version))
	c.JSON(status, gin.H{"quote": toView(*stored)})
}

// GetQuote answers the conditional single-record GET.
func (h *Handler) GetQuote(c *gin.Context) {
	sessionID, ok := h.sessionFrom(c)
	if !ok {
		return
	}
	t, ok := quoteTypeFrom(c)
	if !ok {
		return
	}
	stored, version, err := h.db.GetQuote(sessionID, t)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrQuoteNotFound):
			c.Header("ETag", formatEtag(version))
			c.JSON(http.StatusNotFound, gin.H{"error": "no quote for type"})
		case errors.Is(err, db.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.Header("ETag", formatEtag(version))
	if etagMatch(c.GetHeader("If-None-Match"), version) {
		c.Status(http.StatusNotModified)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": toView(*stored)})
}

// SaveQuote answers PUT /api/quotes/:type. The If-Match token must carry
// the collection version the caller last saw; a stale token is a 412 and
// a lost race inside storage is a 409.
func (h *Handler) SaveQuote(c *gin.Context) {
	sessionID, ok := h.sessionFrom(c)
	if !ok {
		return
	}
	t, ok := quoteTypeFrom(c)
	if !ok {
		return
	}
	var body struct {
		Quote *quote.QuoteRecord `json:"quote"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Quote == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	_, version, err := h.db.GetQuote(sessionID, t)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrQuoteNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no quote for type"})
		case errors.Is(err, db.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	if match := c.GetHeader("If-Match"); match != "" && !etagMatch(match, version) {
		c.Header("ETag", formatEtag(version))
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "stale collection token"})
		return
	}

	payload, err := json.Marshal(body.Quote)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	newVersion, err := h.db.ReplaceQuote(sessionID, db.StoredQuote{
		SessionID: sessionID,
		QuoteType: t,
		Payload:   payload,
	}, version)
	if err != nil {
		if errors.Is(err, db.ErrVersionConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "collection changed underneath"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.publish(ev.ActionUpdate, sessionID, t, body.Quote.Reference)
	c.Header("ETag", formatEtag(newVersion))
	c.Status(http.StatusNoContent)
}

// DeleteQuote clears one type's slot. Deleting an empty slot succeeds.
func (h *Handler) DeleteQuote(c *gin.Context) {
	sessionID, ok := h.sessionFrom(c)
	if !ok {
		return
	}
	t, ok := quoteTypeFrom(c)
	if !ok {
		return
	}
	version, err := h.db.DeleteQuote(sessionID, t)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.publish(ev.ActionDelete, sessionID, t, "")
	c.Header("ETag", formatEtag(version))
	c.Status(http.StatusNoContent)
}

// ListSessions is the support surface: every session with its quote
// collection, batch-loaded through the request dataloader.
func (h *Handler) ListSessions(c *gin.Context) {
	ids, err := h.db.ListSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	loader, ok := c.MustGet(string(db.DataLoaderKeyQuoteData)).(*db.QuoteDataLoader)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "data loader is not available"})
		return
	}

	type sessionView struct {
		SessionID uuid.UUID   `json:"sessionId"`
		Version   int64       `json:"version"`
		Quotes    []quoteView `json:"quotes"`
	}
	views := make([]sessionView, 0, len(ids))
	for _, id := range ids {
		collection, err := loader.GetCollectionList.Load(c.Request.Context(), id)
		if err != nil || collection == nil {
			continue
		}
		sv := sessionView{SessionID: id, Version: collection.Version, Quotes: []quoteView{}}
		for _, q := range collection.Quotes {
			sv.Quotes = append(sv.Quotes, toView(q))
		}
		views = append(views, sv)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}
