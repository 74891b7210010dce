package mem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	dbt "github.com/tranz-r/quote-engine/db/db"
	"github.com/tranz-r/quote-engine/quote"
)

// inMemoryQuoteDBWrapper is an in-memory implementation of
// dbt.QuoteDBWrapper. It is the default backing store of the reference
// server and the fixture for integration tests.
type inMemoryQuoteDBWrapper struct {
	// Quotes and the collection version, keyed by session.
	sessions map[uuid.UUID]*sessionData

	// Mutex for thread-safety: the gin server drives this concurrently.
	mu sync.RWMutex
}

type sessionData struct {
	quotes  map[quote.QuoteType]*dbt.StoredQuote
	version int64
}

// NewInMemoryQuoteDBWrapper creates and returns a new instance of
// inMemoryQuoteDBWrapper.
func NewInMemoryQuoteDBWrapper() dbt.QuoteDBWrapper {
	return &inMemoryQuoteDBWrapper{
		sessions: make(map[uuid.UUID]*sessionData),
	}
}

func copyStored(q *dbt.StoredQuote) *dbt.StoredQuote {
	if q == nil {
		return nil
	}
	out := *q
	if q.Payload != nil {
		out.Payload = make([]byte, len(q.Payload))
		copy(out.Payload, q.Payload)
	}
	return &out
}

func (db *inMemoryQuoteDBWrapper) EnsureSession(presented uuid.UUID) (uuid.UUID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if presented != uuid.Nil {
		if _, exists := db.sessions[presented]; exists {
			return presented, nil
		}
	}

	id := uuid.New()
	db.sessions[id] = &sessionData{quotes: make(map[quote.QuoteType]*dbt.StoredQuote)}
	return id, nil
}

func (db *inMemoryQuoteDBWrapper) GetCollection(sessionID uuid.UUID) (*dbt.Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	data, exists := db.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
	}

	out := &dbt.Collection{SessionID: sessionID, Version: data.version}
	for _, t := range quote.AllTypes() {
		if q, ok := data.quotes[t]; ok {
			out.Quotes = append(out.Quotes, *copyStored(q))
		}
	}
	return out, nil
}

func (db *inMemoryQuoteDBWrapper) GetQuote(sessionID uuid.UUID, t quote.QuoteType) (*dbt.StoredQuote, int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	data, exists := db.sessions[sessionID]
	if !exists {
		return nil, 0, fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
	}
	q, ok := data.quotes[t]
	if !ok {
		return nil, data.version, fmt.Errorf("quote %s/%s: %w", sessionID, t, dbt.ErrQuoteNotFound)
	}
	return copyStored(q), data.version, nil
}

func (db *inMemoryQuoteDBWrapper) CreateQuote(sessionID uuid.UUID, q dbt.StoredQuote) (*dbt.StoredQuote, int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, exists := db.sessions[sessionID]
	if !exists {
		return nil, 0, fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
	}

	// Activation is idempotent: an occupied slot returns what is there.
	if existing, ok := data.quotes[q.QuoteType]; ok {
		return copyStored(existing), data.version, nil
	}

	q.SessionID = sessionID
	q.UpdatedAt = time.Now()
	data.quotes[q.QuoteType] = copyStored(&q)
	data.version++
	return copyStored(&q), data.version, nil
}

func (db *inMemoryQuoteDBWrapper) ReplaceQuote(sessionID uuid.UUID, q dbt.StoredQuote, expectedVersion int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, exists := db.sessions[sessionID]
	if !exists {
		return 0, fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
	}
	if data.version != expectedVersion {
		return data.version, fmt.Errorf("expected version %d, have %d: %w", expectedVersion, data.version, dbt.ErrVersionConflict)
	}

	existing, ok := data.quotes[q.QuoteType]
	if !ok {
		return data.version, fmt.Errorf("quote %s/%s: %w", sessionID, q.QuoteType, dbt.ErrQuoteNotFound)
	}

	// The reference is immutable once assigned.
	q.Reference = existing.Reference
	q.ID = existing.ID
	q.SessionID = sessionID
	q.UpdatedAt = time.Now()
	data.quotes[q.QuoteType] = copyStored(&q)
	data.version++
	return data.version, nil
}

func (db *inMemoryQuoteDBWrapper) DeleteQuote(sessionID uuid.UUID, t quote.QuoteType) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, exists := db.sessions[sessionID]
	if !exists {
		return 0, fmt.Errorf("session %s: %w", sessionID, dbt.ErrSessionNotFound)
	}
	if _, ok := data.quotes[t]; !ok {
		// Deleting an empty slot is a no-op, not an error.
		return data.version, nil
	}
	delete(data.quotes, t)
	data.version++
	return data.version, nil
}

func (db *inMemoryQuoteDBWrapper) ListSessions() ([]uuid.UUID, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(db.sessions))
	for id := range db.sessions {
		out = append(out, id)
	}
	return out, nil
}

func (db *inMemoryQuoteDBWrapper) DataLoaderGetCollections(_ context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]*dbt.Collection, error) {
	out := make(map[uuid.UUID]*dbt.Collection, len(sessionIDs))
	for _, id := range sessionIDs {
		collection, err := db.GetCollection(id)
		if err != nil {
			continue
		}
		out[id] = collection
	}
	return out, nil
}
