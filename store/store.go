package store

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	odiff "github.com/r3labs/diff/v3"

	ch "github.com/tranz-r/quote-engine/cache/cache"
	"github.com/tranz-r/quote-engine/config"
	ev "github.com/tranz-r/quote-engine/events/events"
	"github.com/tranz-r/quote-engine/libs/diff"
	"github.com/tranz-r/quote-engine/quote"
	"github.com/tranz-r/quote-engine/remote"
	"github.com/tranz-r/quote-engine/session"
)

// cachedQuotes is the shape persisted under ch.KeyQuotes.
type cachedQuotes struct {
	Quotes map[quote.QuoteType]*quote.QuoteRecord `json:"quotes"`
	Shared quote.SharedData                       `json:"shared"`
}

// Store owns the in-memory quote state. Every mutation computes the next
// state under the mutex, commits it, and hands a snapshot clone to a
// background persistence write, so two back-to-back updates always apply
// in call order and neither races a write in flight.
//
// The backend concurrency token (ETag) lives only here, never in the
// cache.
type Store struct {
	mu    sync.Mutex
	state *quote.State
	etag  string
	dirty map[quote.QuoteType]bool

	cache   *ch.Adapter
	client  remote.Client
	session *session.Manager
	bus     ev.QuoteEventBus

	persistWG sync.WaitGroup
	// writeMu serializes cache writes; persistSeq/lastPersisted drop
	// writes whose snapshot a later commit has already superseded.
	writeMu       sync.Mutex
	persistSeq    uint64
	lastPersisted uint64

	hydrateOnce sync.Once
	phase       Phase
	ready       chan struct{}

	differ *odiff.Differ
}

// New builds a store over the given backend client, cache adapter and
// event bus. adapter and bus may be nil; persistence and event
// publication then quietly no-op.
func New(client remote.Client, adapter *ch.Adapter, bus ev.QuoteEventBus) *Store {
	if adapter == nil {
		adapter = ch.NewAdapter(nil)
	}
	return &Store{
		state:   quote.NewState(config.SchemaVersion),
		dirty:   make(map[quote.QuoteType]bool),
		cache:   adapter,
		client:  client,
		session: session.NewManager(client),
		bus:     bus,
		ready:   make(chan struct{}),
		differ:  diff.GetCustomDiffer(),
	}
}

// Session exposes the session manager, mainly for tests and the demo
// command.
func (s *Store) Session() *session.Manager {
	return s.session
}

// nextSeq orders a snapshot against all other commits. Callers must hold
// s.mu.
func (s *Store) nextSeq() uint64 {
	s.persistSeq++
	return s.persistSeq
}

// persistAsync schedules a cache write of the committed snapshot. The
// snapshot is already a clone, so later mutations cannot race it.
func (s *Store) persistAsync(seq uint64, snapshot *quote.State) {
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		s.persistNow(seq, snapshot)
	}()
}

// persistNow writes the snapshot through the cache adapter, unless a
// newer snapshot already landed.
func (s *Store) persistNow(seq uint64, snapshot *quote.State) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if seq < s.lastPersisted {
		return
	}
	s.lastPersisted = seq
	s.cache.Set(ch.KeyQuotes, cachedQuotes{Quotes: snapshot.Quotes, Shared: snapshot.Shared})
	s.cache.Set(ch.KeyMetadata, snapshot.Meta)
}

// WaitPersist blocks until every scheduled persistence write has landed.
// Tests use it to observe the cache deterministically.
func (s *Store) WaitPersist() {
	s.persistWG.Wait()
}

func (s *Store) publish(action ev.Action, t quote.QuoteType, reference string) {
	if s.bus == nil {
		return
	}
	msg := ev.QuoteEventMessage{
		SessionID: s.session.GuestID(),
		QuoteType: t,
		Reference: reference,
	}
	if err := s.bus.GetQuoteEventQueue(action).Publish(msg); err != nil {
		log.Printf("[store] failed to publish %s event: %v", action, err)
	}
}

// SetActiveQuoteType activates a quote type. If the slot already holds a
// record only the active pointer moves; otherwise the guest session is
// ensured and the type selected on the backend, installing a skeleton
// carrying the server-minted reference. A *remote.CreationError leaves
// the slot unset so the caller can retry activation.
func (s *Store) SetActiveQuoteType(ctx context.Context, t quote.QuoteType) error {
	t = quote.NormalizeType(string(t))

	s.mu.Lock()
	if s.state.Quotes[t] != nil {
		s.state.ActiveType = t
		s.state.Meta.LastActiveQuoteType = t
		seq, snapshot := s.nextSeq(), s.state.Clone()
		s.mu.Unlock()
		s.persistAsync(seq, snapshot)
		return nil
	}
	s.mu.Unlock()

	// Slot is empty: the backend owns reference assignment.
	if _, err := s.session.EnsureGuestSession(ctx); err != nil {
		return err
	}
	sel, err := s.client.SelectQuoteType(ctx, t)
	if err != nil {
		return err
	}

	record := sel.Quote.Quote
	if record == nil {
		record = quote.NewSkeleton(sel.Quote.Reference)
	} else if record.Reference == "" {
		record.Reference = sel.Quote.Reference
	}

	s.mu.Lock()
	// A concurrent activation may have won; the first installed record
	// stays.
	if s.state.Quotes[t] == nil {
		s.state.Quotes[t] = record
	}
	s.state.ActiveType = t
	s.state.Meta.LastActiveQuoteType = t
	s.state.Meta.LastActivity = time.Now()
	if sel.Etag != "" {
		s.etag = sel.Etag
	}
	reference := s.state.Quotes[t].Reference
	seq, snapshot := s.nextSeq(), s.state.Clone()
	s.mu.Unlock()

	s.persistAsync(seq, snapshot)
	s.publish(ev.ActionCreate, t, reference)
	return nil
}

// UpdateQuote shallow-merges the patch onto the record for t, creating a
// referenceless skeleton when the slot is empty. Local only: the backend
// sees nothing until SaveQuoteToBackend. The type is marked dirty for the
// next checkpoint.
func (s *Store) UpdateQuote(t quote.QuoteType, patch quote.RecordPatch) {
	t = quote.NormalizeType(string(t))

	s.mu.Lock()
	record := s.state.Quotes[t]
	if record == nil {
		record = quote.NewSkeleton("")
		s.state.Quotes[t] = record
	}
	record.Apply(patch)
	s.state.Meta.LastActivity = time.Now()
	s.dirty[t] = true
	reference := record.Reference
	seq, snapshot := s.nextSeq(), s.state.Clone()
	s.mu.Unlock()

	s.persistAsync(seq, snapshot)
	s.publish(ev.ActionUpdate, t, reference)
}

// MarkDirty flags a type for the next FlushDirty checkpoint without
// touching the record.
func (s *Store) MarkDirty(t quote.QuoteType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[quote.NormalizeType(string(t))] = true
}

// Dirty reports whether t has unsaved local changes.
func (s *Store) Dirty(t quote.QuoteType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty[quote.NormalizeType(string(t))]
}

// SaveQuoteToBackend is the single checkpoint where accumulated local
// changes are pushed remotely. On a token conflict it reloads once to
// refresh the token and retries exactly once; a second conflict resolves
// to false. Never returns an error across this boundary.
func (s *Store) SaveQuoteToBackend(ctx context.Context, t quote.QuoteType) bool {
	t = quote.NormalizeType(string(t))

	s.mu.Lock()
	record := s.state.Quotes[t].Clone()
	etag := s.etag
	s.mu.Unlock()

	if record == nil {
		log.Printf("[store] nothing to save for %q", t)
		return false
	}

	newEtag, err := s.client.SaveQuote(ctx, t, record, etag)
	var conflict *remote.ConflictError
	if errors.As(err, &conflict) {
		log.Printf("[store] save conflict for %q (token %q), reloading", t, etag)
		refreshed, ok := s.reloadForRetry(ctx, t, record)
		if !ok {
			return false
		}
		newEtag, err = s.client.SaveQuote(ctx, t, record, refreshed)
	}
	if err != nil {
		log.Printf("[store] failed to save %q: %v", t, err)
		return false
	}

	s.mu.Lock()
	s.etag = newEtag
	delete(s.dirty, t)
	s.state.Meta.LastActivity = time.Now()
	seq, snapshot := s.nextSeq(), s.state.Clone()
	s.mu.Unlock()

	s.persistAsync(seq, snapshot)
	s.publish(ev.ActionUpdate, t, record.Reference)
	return true
}

// reloadForRetry refreshes the collection token after a conflict and logs
// what the backend holds against what we are about to push.
func (s *Store) reloadForRetry(ctx context.Context, t quote.QuoteType, local *quote.QuoteRecord) (string, bool) {
	res, err := s.client.LoadQuotes(ctx, "")
	if err != nil {
		log.Printf("[store] reload after conflict failed for %q: %v", t, err)
		return "", false
	}
	for _, rq := range res.Quotes {
		if quote.NormalizeType(rq.Type) != t || rq.Quote == nil {
			continue
		}
		changelog, err := s.differ.Diff(rq.Quote, local)
		if err != nil {
			break
		}
		for _, change := range changelog {
			log.Printf("[store] conflict on %q: %s %v: %v -> %v", t, change.Type, change.Path, change.From, change.To)
		}
	}
	s.mu.Lock()
	s.etag = res.Etag
	s.mu.Unlock()
	return res.Etag, true
}

// FlushDirty saves every dirty type through the checkpoint. Reports true
// only when every save succeeded.
func (s *Store) FlushDirty(ctx context.Context) bool {
	s.mu.Lock()
	pending := make([]quote.QuoteType, 0, len(s.dirty))
	for t := range s.dirty {
		pending = append(pending, t)
	}
	s.mu.Unlock()

	ok := true
	for _, t := range pending {
		if !s.SaveQuoteToBackend(ctx, t) {
			ok = false
		}
	}
	return ok
}

// ResetQuote clears the active type's slot and persists the cleared map
// before returning. The backend-side record is deleted best-effort.
func (s *Store) ResetQuote(ctx context.Context) {
	s.mu.Lock()
	t := s.state.ActiveType
	if t == "" {
		s.mu.Unlock()
		return
	}
	s.state.Quotes[t] = nil
	s.state.ActiveType = ""
	s.state.Meta.LastActiveQuoteType = ""
	delete(s.dirty, t)
	seq, snapshot := s.nextSeq(), s.state.Clone()
	s.mu.Unlock()

	s.persistNow(seq, snapshot)
	if err := s.client.DeleteQuote(ctx, t); err != nil {
		log.Printf("[store] failed to delete %q on backend: %v", t, err)
	}
	s.publish(ev.ActionDelete, t, "")
}

// ResetAllQuotes clears every slot. Used after a completed booking so the
// next visit starts from a clean slate; the cache reflects the cleared
// map before the call returns.
func (s *Store) ResetAllQuotes(ctx context.Context) {
	s.mu.Lock()
	occupied := make([]quote.QuoteType, 0, len(s.state.Quotes))
	for _, t := range quote.AllTypes() {
		if s.state.Quotes[t] != nil {
			occupied = append(occupied, t)
		}
		s.state.Quotes[t] = nil
		delete(s.dirty, t)
	}
	s.state.ActiveType = ""
	s.state.Meta.LastActiveQuoteType = ""
	seq, snapshot := s.nextSeq(), s.state.Clone()
	s.mu.Unlock()

	s.persistNow(seq, snapshot)
	for _, t := range occupied {
		if err := s.client.DeleteQuote(ctx, t); err != nil {
			log.Printf("[store] failed to delete %q on backend: %v", t, err)
		}
		s.publish(ev.ActionDelete, t, "")
	}
}

// UpdateSharedData shallow-merges contact fields shared across quote
// types.
func (s *Store) UpdateSharedData(patch quote.SharedDataPatch) {
	s.mu.Lock()
	s.state.Shared.Apply(patch)
	s.state.Meta.LastActivity = time.Now()
	seq, snapshot := s.nextSeq(), s.state.Clone()
	s.mu.Unlock()

	s.persistAsync(seq, snapshot)
}

// QuoteReference returns the backend-assigned reference for t, empty when
// the slot is absent or not yet created remotely.
func (s *Store) QuoteReference(t quote.QuoteType) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.state.Quotes[quote.NormalizeType(string(t))]
	if record == nil {
		return ""
	}
	return record.Reference
}

// CurrentEtag returns the held collection token.
func (s *Store) CurrentEtag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.etag
}

// ActiveType returns the currently active quote type, empty when none.
func (s *Store) ActiveType() quote.QuoteType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ActiveType
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *quote.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}
