package db

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tranz-r/quote-engine/quote"
)

var (
	ErrSessionNotFound = errors.New("guest session not found")
	ErrQuoteNotFound   = errors.New("quote not found")
	// ErrVersionConflict means the expected collection version is stale:
	// someone else wrote the collection since the caller last loaded it.
	ErrVersionConflict = errors.New("collection version conflict")
)

type QuoteDBWrapper interface {
	// EnsureSession returns the session for presented when it exists,
	// otherwise creates a fresh one. Passing uuid.Nil always creates.
	EnsureSession(presented uuid.UUID) (uuid.UUID, error)
	// GetCollection returns every stored quote of a session plus the
	// collection version.
	GetCollection(sessionID uuid.UUID) (*Collection, error)
	// GetQuote returns one stored quote and the current collection
	// version. ErrQuoteNotFound when the slot is empty.
	GetQuote(sessionID uuid.UUID, t quote.QuoteType) (*StoredQuote, int64, error)
	// CreateQuote installs a fresh quote for a type that has none yet and
	// bumps the version. Returns the existing quote unchanged if the type
	// is already taken (activation is idempotent backend-side).
	CreateQuote(sessionID uuid.UUID, q StoredQuote) (*StoredQuote, int64, error)
	// ReplaceQuote overwrites a quote's payload under optimistic locking:
	// expectedVersion must match the collection's current version or the
	// write fails with ErrVersionConflict. Returns the new version.
	ReplaceQuote(sessionID uuid.UUID, q StoredQuote, expectedVersion int64) (int64, error)
	// DeleteQuote clears one type's slot and bumps the version.
	DeleteQuote(sessionID uuid.UUID, t quote.QuoteType) (int64, error)
	// ListSessions returns every known session id.
	ListSessions() ([]uuid.UUID, error)
	// Data Loader
	DataLoaderGetCollections(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]*Collection, error)
}
