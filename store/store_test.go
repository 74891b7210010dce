package store_test // Use _test suffix for test package

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ch "github.com/tranz-r/quote-engine/cache/cache"
	"github.com/tranz-r/quote-engine/cache/mem"
	"github.com/tranz-r/quote-engine/events/goch"
	"github.com/tranz-r/quote-engine/quote"
	"github.com/tranz-r/quote-engine/remote"
	"github.com/tranz-r/quote-engine/store"
)

// fakeClient scripts the backend for store tests.
type fakeClient struct {
	mu sync.Mutex

	guest       uuid.UUID
	ensureCalls int
	selectCalls map[quote.QuoteType]int
	refSeq      int

	loadQuotes []remote.RemoteQuote
	loadEtag   string
	loadErr    error

	conflictsLeft int
	saveEtag      string
	saved         map[quote.QuoteType]*quote.QuoteRecord
	savedEtags    []string
	deleted       []quote.QuoteType
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		selectCalls: make(map[quote.QuoteType]int),
		loadEtag:    `W/"v1"`,
		saveEtag:    `W/"v2"`,
		saved:       make(map[quote.QuoteType]*quote.QuoteRecord),
	}
}

func (c *fakeClient) EnsureGuest(ctx context.Context) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureCalls++
	if c.guest == uuid.Nil {
		c.guest = uuid.New()
	}
	return c.guest, nil
}

func (c *fakeClient) LoadQuotes(ctx context.Context, etag string) (*remote.LoadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	return &remote.LoadResult{Quotes: c.loadQuotes, Etag: c.loadEtag}, nil
}

func (c *fakeClient) SelectQuoteType(ctx context.Context, t quote.QuoteType) (*remote.Selection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selectCalls[t]++
	c.refSeq++
	return &remote.Selection{
		Quote: remote.RemoteQuote{
			ID:        uuid.New(),
			Type:      string(t),
			Reference: fmt.Sprintf("Q-%d", 1000+c.refSeq),
			SessionID: c.guest,
		},
		Etag: c.loadEtag,
	}, nil
}

func (c *fakeClient) SaveQuote(ctx context.Context, t quote.QuoteType, record *quote.QuoteRecord, etag string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conflictsLeft > 0 {
		c.conflictsLeft--
		return "", &remote.ConflictError{Presented: etag}
	}
	c.saved[t] = record.Clone()
	c.savedEtags = append(c.savedEtags, etag)
	return c.saveEtag, nil
}

func (c *fakeClient) GetQuote(ctx context.Context, t quote.QuoteType, etag string) (*remote.RemoteQuote, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.saved[t]
	if !ok {
		return nil, c.loadEtag, nil
	}
	return &remote.RemoteQuote{Type: string(t), Reference: record.Reference, Quote: record.Clone()}, c.loadEtag, nil
}

func (c *fakeClient) DeleteQuote(ctx context.Context, t quote.QuoteType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.saved, t)
	c.deleted = append(c.deleted, t)
	return nil
}

func ptr[T any](v T) *T { return &v }

func newTestStore(client remote.Client, backend ch.Backend) *store.Store {
	return store.New(client, ch.NewAdapter(backend), goch.NewGoChanQuoteEventBus(16))
}

func TestSetActiveQuoteTypeIdempotent(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, mem.NewInMemoryBackend())
	ctx := context.Background()

	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeSend))
	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeSend))

	assert.Equal(t, 1, client.selectCalls[quote.TypeSend], "re-activation must not re-create on the backend")
	assert.Equal(t, 1, client.ensureCalls)
	assert.Equal(t, quote.TypeSend, s.ActiveType())
	assert.Equal(t, "Q-1001", s.QuoteReference(quote.TypeSend))
}

func TestMergeFoldProperty(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, mem.NewInMemoryBackend())
	ctx := context.Background()

	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeSend))

	patches := []quote.RecordPatch{
		{DriverCount: ptr(1), PricingTier: ptr("standard")},
		{DriverCount: ptr(3)},
		{TotalCost: ptr(499.0), Items: ptr([]quote.InventoryItem{{Name: "sofa", Quantity: 1}})},
		{PricingTier: ptr("premium")},
	}
	for _, p := range patches {
		s.UpdateQuote(quote.TypeSend, p)
	}
	s.WaitPersist()

	// Final record equals the left fold of the patches over the skeleton.
	want := quote.NewSkeleton("Q-1001")
	for _, p := range patches {
		want.Apply(p)
	}
	got := s.Snapshot().Quotes[quote.TypeSend]
	assert.Equal(t, want, got)
	assert.True(t, s.Dirty(quote.TypeSend))
}

func TestCacheRoundTripScenarioA(t *testing.T) {
	backend := mem.NewInMemoryBackend()
	client := newFakeClient()
	s := newTestStore(client, backend)
	ctx := context.Background()

	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeSend))
	reference := s.QuoteReference(quote.TypeSend)
	require.NotEmpty(t, reference)

	items := []quote.InventoryItem{{Name: "wardrobe", Quantity: 2, HeightCm: 210}}
	s.UpdateQuote(quote.TypeSend, quote.RecordPatch{Items: &items})
	s.WaitPersist()

	// Fresh process over the same cache; the backend now returns nothing.
	restarted := newTestStore(newFakeClient(), backend)
	restarted.Hydrate(ctx)
	require.NoError(t, restarted.WaitReady(ctx))

	record := restarted.Snapshot().Quotes[quote.TypeSend]
	require.NotNil(t, record, "empty backend must not wipe the cached record")
	assert.Equal(t, reference, record.Reference)
	assert.Equal(t, items, record.Items)
	assert.Equal(t, quote.TypeSend, restarted.ActiveType(), "active pointer restored from metadata")
}

func TestResetQuoteScenarioB(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, mem.NewInMemoryBackend())
	ctx := context.Background()

	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeRemovals))
	s.UpdateQuote(quote.TypeRemovals, quote.RecordPatch{DriverCount: ptr(2)})
	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeSend))
	s.UpdateQuote(quote.TypeSend, quote.RecordPatch{DriverCount: ptr(1)})

	s.ResetQuote(ctx)

	state := s.Snapshot()
	assert.Nil(t, state.Quotes[quote.TypeSend], "active slot cleared")
	require.NotNil(t, state.Quotes[quote.TypeRemovals], "other slot untouched")
	assert.Equal(t, 2, state.Quotes[quote.TypeRemovals].DriverCount)
	assert.Equal(t, quote.QuoteType(""), s.ActiveType())
	assert.Equal(t, []quote.QuoteType{quote.TypeSend}, client.deleted)
}

func TestResetAllQuotesScenarioC(t *testing.T) {
	backend := mem.NewInMemoryBackend()
	client := newFakeClient()
	s := newTestStore(client, backend)
	ctx := context.Background()

	for _, qt := range quote.AllTypes() {
		require.NoError(t, s.SetActiveQuoteType(ctx, qt))
	}
	s.ResetAllQuotes(ctx)

	// The cleared map is persisted before the call returns; read the
	// cache directly without waiting for background writes.
	adapter := ch.NewAdapter(backend)
	var cached struct {
		Quotes map[quote.QuoteType]*quote.QuoteRecord `json:"quotes"`
	}
	require.True(t, adapter.Get(ch.KeyQuotes, &cached))
	for _, qt := range quote.AllTypes() {
		assert.Nil(t, cached.Quotes[qt])
	}
	for _, qt := range quote.AllTypes() {
		assert.Nil(t, s.Snapshot().Quotes[qt])
	}
}

func TestSaveQuoteConflictRetry(t *testing.T) {
	client := newFakeClient()
	client.conflictsLeft = 1
	client.loadEtag = `W/"v7"`
	client.saveEtag = `W/"v8"`
	s := newTestStore(client, mem.NewInMemoryBackend())
	ctx := context.Background()

	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeSend))
	s.UpdateQuote(quote.TypeSend, quote.RecordPatch{TotalCost: ptr(250.0)})

	ok := s.SaveQuoteToBackend(ctx, quote.TypeSend)
	assert.True(t, ok, "one conflict then success must report success")

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.savedEtags, 1, "only the retry reaches storage")
	assert.Equal(t, `W/"v7"`, client.savedEtags[0], "retry carries the reloaded token")
	require.NotNil(t, client.saved[quote.TypeSend])
	assert.Equal(t, 250.0, client.saved[quote.TypeSend].TotalCost)
	assert.Equal(t, `W/"v8"`, s.CurrentEtag(), "next save uses the refreshed token")
	assert.False(t, s.Dirty(quote.TypeSend))
}

func TestSaveQuoteSecondConflictResolvesFalse(t *testing.T) {
	client := newFakeClient()
	client.conflictsLeft = 2
	s := newTestStore(client, mem.NewInMemoryBackend())
	ctx := context.Background()

	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeSend))
	s.UpdateQuote(quote.TypeSend, quote.RecordPatch{TotalCost: ptr(99.0)})

	assert.False(t, s.SaveQuoteToBackend(ctx, quote.TypeSend))
	assert.True(t, s.Dirty(quote.TypeSend), "failed checkpoint keeps the dirty flag")
}

func TestSaveQuoteAbsentSlot(t *testing.T) {
	s := newTestStore(newFakeClient(), mem.NewInMemoryBackend())
	assert.False(t, s.SaveQuoteToBackend(context.Background(), quote.TypeReceive))
}

func TestFlushDirty(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, mem.NewInMemoryBackend())
	ctx := context.Background()

	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeSend))
	require.NoError(t, s.SetActiveQuoteType(ctx, quote.TypeRemovals))
	s.UpdateQuote(quote.TypeSend, quote.RecordPatch{DriverCount: ptr(1)})
	s.UpdateQuote(quote.TypeRemovals, quote.RecordPatch{DriverCount: ptr(2)})

	assert.True(t, s.FlushDirty(ctx))
	assert.False(t, s.Dirty(quote.TypeSend))
	assert.False(t, s.Dirty(quote.TypeRemovals))

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.saved, 2)
}

func TestHydrationMergeBackfillsPayment(t *testing.T) {
	backend := mem.NewInMemoryBackend()
	ctx := context.Background()

	// Seed the cache with a record that saw a payment confirmation.
	seeded := newTestStore(newFakeClient(), backend)
	require.NoError(t, seeded.SetActiveQuoteType(ctx, quote.TypeSend))
	seeded.UpdateQuote(quote.TypeSend, quote.RecordPatch{
		TotalCost: ptr(300.0),
		Payment:   &quote.Payment{Status: quote.PaymentPaid, BookingID: "BK-1"},
	})
	seeded.WaitPersist()
	reference := seeded.QuoteReference(quote.TypeSend)

	// The backend has the record but no payment yet.
	client := newFakeClient()
	client.loadQuotes = []remote.RemoteQuote{{
		Type:      "SEND", // case-insensitive tag normalization
		Reference: reference,
		Quote:     &quote.QuoteRecord{Reference: reference, TotalCost: 320.0},
	}}
	restarted := newTestStore(client, backend)
	restarted.Hydrate(ctx)
	require.NoError(t, restarted.WaitReady(ctx))

	record := restarted.Snapshot().Quotes[quote.TypeSend]
	require.NotNil(t, record)
	assert.Equal(t, 320.0, record.TotalCost, "backend-provided fields win")
	require.NotNil(t, record.Payment, "cache backfills the payment the backend lacks")
	assert.Equal(t, quote.PaymentPaid, record.Payment.Status)
	assert.Equal(t, "BK-1", record.Payment.BookingID)
}

func TestHydrationPhaseOrder(t *testing.T) {
	bus := goch.NewGoChanQuoteEventBus(16)
	s := store.New(newFakeClient(), ch.NewAdapter(mem.NewInMemoryBackend()), bus)

	subID, phases, err := bus.GetHydrationPhaseQueue().Subscribe(uuid.Nil)
	require.NoError(t, err)
	defer bus.GetHydrationPhaseQueue().DeSubscribe(subID)

	s.Hydrate(context.Background())
	require.NoError(t, s.WaitReady(context.Background()))
	assert.Equal(t, store.PhaseReady, s.Phase())

	want := []string{"loading_cache", "loading_remote", "merging", "ready"}
	for _, expected := range want {
		select {
		case msg := <-phases:
			assert.Equal(t, expected, msg.Phase)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for phase %q", expected)
		}
	}
}

func TestHydrationFailedWhenBothSourcesUnusable(t *testing.T) {
	client := newFakeClient()
	client.loadErr = &remote.LoadError{Err: fmt.Errorf("backend down")}
	s := newTestStore(client, mem.NewInMemoryBackend())

	ctx := context.Background()
	s.Hydrate(ctx)
	require.NoError(t, s.WaitReady(ctx), "ready unblocks even on failure")
	assert.Equal(t, store.PhaseFailed, s.Phase())
}

func TestHydrateIsOneShot(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, mem.NewInMemoryBackend())
	ctx := context.Background()

	s.Hydrate(ctx)
	require.NoError(t, s.WaitReady(ctx))
	phase := s.Phase()

	s.Hydrate(ctx)
	assert.Equal(t, phase, s.Phase())
}

func TestUpdateSharedData(t *testing.T) {
	s := newTestStore(newFakeClient(), mem.NewInMemoryBackend())

	s.UpdateSharedData(quote.SharedDataPatch{CustomerEmail: ptr("jo@example.com")})
	s.UpdateSharedData(quote.SharedDataPatch{CustomerPhone: ptr("07700900000")})
	s.WaitPersist()

	shared := s.Snapshot().Shared
	assert.Equal(t, "jo@example.com", shared.CustomerEmail)
	assert.Equal(t, "07700900000", shared.CustomerPhone)
}
