package store

import (
	"context"
	"log"

	ch "github.com/tranz-r/quote-engine/cache/cache"
	"github.com/tranz-r/quote-engine/config"
	ev "github.com/tranz-r/quote-engine/events/events"
	"github.com/tranz-r/quote-engine/quote"
)

// Phase is the hydration sequencer's state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseLoadingCache
	PhaseLoadingRemote
	PhaseMerging
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoadingCache:
		return "loading_cache"
	case PhaseLoadingRemote:
		return "loading_remote"
	case PhaseMerging:
		return "merging"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Phase returns the current hydration phase.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Store) setPhase(p Phase) {
	s.mu.Lock()
	from := s.phase
	s.phase = p
	s.mu.Unlock()

	log.Printf("[store] hydration %s -> %s", from, p)
	if s.bus == nil {
		return
	}
	msg := ev.HydrationPhaseMessage{
		SessionID: s.session.GuestID(),
		Phase:     p.String(),
	}
	if err := s.bus.GetHydrationPhaseQueue().Publish(msg); err != nil {
		log.Printf("[store] failed to publish hydration phase: %v", err)
	}
}

// Hydrate runs the one-shot startup sequence: install cached state, load
// the backend collection, merge per type, restore the active pointer.
// Repeat calls are no-ops. The ready channel closes whatever happens;
// any step failure degrades to "proceed with whatever state exists".
func (s *Store) Hydrate(ctx context.Context) {
	s.hydrateOnce.Do(func() {
		defer close(s.ready)
		s.hydrate(ctx)
	})
}

// WaitReady blocks until hydration has finished (or ctx is done).
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) hydrate(ctx context.Context) {
	// Step 1: cached state becomes the provisional state.
	s.setPhase(PhaseLoadingCache)
	var cached cachedQuotes
	cacheHit := s.cache.Get(ch.KeyQuotes, &cached)
	var meta quote.Metadata
	s.cache.Get(ch.KeyMetadata, &meta)

	cacheSnapshot := quote.NewState(config.SchemaVersion)
	if cacheHit {
		cacheSnapshot.Quotes = cached.Quotes
		cacheSnapshot.Shared = cached.Shared
		cacheSnapshot.Meta = meta
		cacheSnapshot.Normalize()

		s.mu.Lock()
		s.state = cacheSnapshot.Clone()
		s.mu.Unlock()
	}

	// Step 2/3: the backend collection becomes the base state, unless it
	// comes back empty. Empty-from-backend never wipes cached records.
	s.setPhase(PhaseLoadingRemote)
	remoteUsable := false
	var remoteErr error
	s.mu.Lock()
	etag := s.etag
	s.mu.Unlock()
	res, err := s.client.LoadQuotes(ctx, etag)
	if err != nil {
		remoteErr = err
		log.Printf("[store] hydration: backend load failed, keeping local state: %v", err)
	} else if len(res.Quotes) > 0 {
		remoteUsable = true
		base := quote.NewState(config.SchemaVersion)
		base.Meta = meta
		for _, rq := range res.Quotes {
			t := quote.NormalizeType(rq.Type)
			record := rq.Quote
			if record == nil {
				record = quote.NewSkeleton(rq.Reference)
			} else if record.Reference == "" {
				record.Reference = rq.Reference
			}
			base.Quotes[t] = record
		}

		s.mu.Lock()
		shared := s.state.Shared
		active := s.state.ActiveType
		base.Shared = shared
		base.ActiveType = active
		s.state = base
		s.etag = res.Etag
		seq, snapshot := s.nextSeq(), s.state.Clone()
		s.mu.Unlock()
		s.persistAsync(seq, snapshot)
	} else {
		s.mu.Lock()
		s.etag = res.Etag
		s.mu.Unlock()
	}

	// Step 4: backfill from the original cache snapshot, so a payment
	// confirmation the backend has not caught up on survives.
	s.setPhase(PhaseMerging)
	s.mu.Lock()
	merged := quote.MergeStates(s.state, cacheSnapshot)
	s.logMergeChanges(s.state, merged)
	s.state = merged

	// Step 5: restore the active pointer.
	if s.state.ActiveType == "" {
		if t := s.state.Meta.LastActiveQuoteType; quote.IsValidType(t) {
			s.state.ActiveType = t
		}
	}
	seq, snapshot := s.nextSeq(), s.state.Clone()
	s.mu.Unlock()
	s.persistAsync(seq, snapshot)

	// Step 6: unblock dependents. Failed only when neither source yielded
	// anything usable and the backend load actually errored.
	if !cacheHit && !remoteUsable && remoteErr != nil {
		s.setPhase(PhaseFailed)
		return
	}
	s.setPhase(PhaseReady)
}

// logMergeChanges records what the cache backfilled over the base state.
func (s *Store) logMergeChanges(base, merged *quote.State) {
	for _, t := range quote.AllTypes() {
		before, after := base.Quotes[t], merged.Quotes[t]
		if before == nil && after == nil {
			continue
		}
		changelog, err := s.differ.Diff(before, after)
		if err != nil {
			log.Printf("[store] failed to diff %q during merge: %v", t, err)
			continue
		}
		for _, change := range changelog {
			log.Printf("[store] merge backfill on %q: %s %v: %v -> %v", t, change.Type, change.Path, change.From, change.To)
		}
	}
}
