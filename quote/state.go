package quote

import "time"

// Metadata is persisted alongside the quote map in the local cache.
type Metadata struct {
	LastActiveQuoteType QuoteType `json:"lastActiveQuoteType,omitempty"`
	LastActivity        time.Time `json:"lastActivity,omitempty"`
	SchemaVersion       int       `json:"schemaVersion"`
}

// State is the full in-memory quote state owned by the store. The Quotes
// map is always fully keyed over AllTypes; a nil value means the slot is
// absent.
type State struct {
	Quotes     map[QuoteType]*QuoteRecord `json:"quotes"`
	Shared     SharedData                 `json:"shared"`
	Meta       Metadata                   `json:"metadata"`
	ActiveType QuoteType                  `json:"activeType,omitempty"`
}

// NewState returns an empty state with every quote slot keyed and absent.
func NewState(schemaVersion int) *State {
	s := &State{
		Quotes: make(map[QuoteType]*QuoteRecord, len(AllTypes())),
		Meta:   Metadata{SchemaVersion: schemaVersion},
	}
	for _, t := range AllTypes() {
		s.Quotes[t] = nil
	}
	return s
}

// Normalize re-keys the quote map so every known type is present, dropping
// anything outside the closed set. Used after decoding cached state.
func (s *State) Normalize() {
	quotes := make(map[QuoteType]*QuoteRecord, len(AllTypes()))
	for _, t := range AllTypes() {
		quotes[t] = s.Quotes[t]
	}
	s.Quotes = quotes
	if s.ActiveType != "" && !IsValidType(s.ActiveType) {
		s.ActiveType = ""
	}
}

// Clone returns a deep copy of the state. The persistence goroutine
// receives clones so later mutations never race a write in flight.
func (s *State) Clone() *State {
	out := &State{
		Quotes:     make(map[QuoteType]*QuoteRecord, len(s.Quotes)),
		Shared:     s.Shared,
		Meta:       s.Meta,
		ActiveType: s.ActiveType,
	}
	for t, r := range s.Quotes {
		out.Quotes[t] = r.Clone()
	}
	return out
}
