package remote

import (
	"context"

	"github.com/google/uuid"

	"github.com/tranz-r/quote-engine/quote"
)

// RemoteQuote is one quote as the backend returns it. Type is a free-form
// tag on the wire and gets normalized by callers.
type RemoteQuote struct {
	ID        uuid.UUID          `json:"id"`
	Type      string             `json:"type"`
	Reference string             `json:"reference"`
	SessionID uuid.UUID          `json:"sessionId"`
	Quote     *quote.QuoteRecord `json:"quote,omitempty"`
}

// LoadResult is the outcome of a conditional collection load. A
// not-modified response yields an empty Quotes slice and the same token;
// callers must treat that as "no change", never as "empty backend".
type LoadResult struct {
	Quotes []RemoteQuote
	Etag   string
}

// Selection is the outcome of activating a quote type on the backend.
type Selection struct {
	Quote RemoteQuote
	Etag  string
}

// Client is the typed adapter over the backend's quote endpoints. All
// methods are request/response pairs; the concurrency token travels as an
// ETag.
type Client interface {
	// EnsureGuest establishes (or re-confirms) the anonymous guest
	// identity. Idempotent on the backend side.
	EnsureGuest(ctx context.Context) (uuid.UUID, error)
	// LoadQuotes fetches the whole collection, conditionally when etag is
	// non-empty.
	LoadQuotes(ctx context.Context, etag string) (*LoadResult, error)
	// SelectQuoteType creates the backend-side quote for a type and
	// returns its server-assigned reference. A response without a
	// reference is a *CreationError.
	SelectQuoteType(ctx context.Context, t quote.QuoteType) (*Selection, error)
	// SaveQuote pushes the full record under the presented token and
	// returns the refreshed token. A token mismatch is a *ConflictError.
	SaveQuote(ctx context.Context, t quote.QuoteType, record *quote.QuoteRecord, etag string) (string, error)
	// GetQuote is the single-record variant of LoadQuotes.
	GetQuote(ctx context.Context, t quote.QuoteType, etag string) (*RemoteQuote, string, error)
	// DeleteQuote removes the backend-side record for a type.
	DeleteQuote(ctx context.Context, t quote.QuoteType) error
}
