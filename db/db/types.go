package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tranz-r/quote-engine/quote"
)

// StoredQuote is one quote draft as the backend of record keeps it. The
// record body travels as opaque JSON so the storage layer never chases the
// record schema.
type StoredQuote struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	QuoteType quote.QuoteType
	Reference string
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// Collection is a guest session's full set of quote drafts plus the
// collection-wide version. The version increments on every write and is
// the source of the ETag handed to clients.
type Collection struct {
	SessionID uuid.UUID
	Quotes    []StoredQuote
	Version   int64
}
