package web_test // Use _test suffix for test package

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranz-r/quote-engine/db/mem"
	ev "github.com/tranz-r/quote-engine/events/events"
	"github.com/tranz-r/quote-engine/events/goch"
	"github.com/tranz-r/quote-engine/quote"
	"github.com/tranz-r/quote-engine/web"
)

type testBackend struct {
	server *httptest.Server
	bus    ev.QuoteEventBus
}

func setupTest(t *testing.T) *testBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)
	wrapper := mem.NewInMemoryQuoteDBWrapper()
	bus := goch.NewGoChanQuoteEventBus(16)
	server := httptest.NewServer(web.NewRouter(wrapper, bus))
	t.Cleanup(server.Close)
	return &testBackend{server: server, bus: bus}
}

func (b *testBackend) request(t *testing.T, method, path string, body any, header map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, b.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (b *testBackend) newSession(t *testing.T) uuid.UUID {
	t.Helper()
	resp := b.request(t, http.MethodPost, "/api/session", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		GuestID uuid.UUID `json:"guestId"`
	}
	decodeBody(t, resp, &body)
	require.NotEqual(t, uuid.Nil, body.GuestID)
	return body.GuestID
}

func sessionHeader(id uuid.UUID) map[string]string {
	return map[string]string{web.GuestSessionHeader: id.String()}
}

func TestEnsureSessionIdempotent(t *testing.T) {
	backend := setupTest(t)

	first := backend.newSession(t)

	resp := backend.request(t, http.MethodPost, "/api/session", nil, sessionHeader(first))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		GuestID uuid.UUID `json:"guestId"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, first, body.GuestID, "re-presenting a session must return the same id")

	// An unknown id is replaced, not adopted.
	resp = backend.request(t, http.MethodPost, "/api/session", nil, sessionHeader(uuid.New()))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	assert.NotEqual(t, first, body.GuestID)
}

func TestSelectQuoteType(t *testing.T) {
	backend := setupTest(t)
	session := backend.newSession(t)

	resp := backend.request(t, http.MethodPost, "/api/quotes/select",
		map[string]string{"quoteType": "removals"}, sessionHeader(session))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `W/"v1"`, resp.Header.Get("ETag"))

	var body struct {
		Quote struct {
			ID        uuid.UUID `json:"id"`
			Type      string    `json:"type"`
			Reference string    `json:"reference"`
			SessionID uuid.UUID `json:"sessionId"`
		} `json:"quote"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "removals", body.Quote.Type)
	assert.Equal(t, session, body.Quote.SessionID)
	assert.True(t, strings.HasPrefix(body.Quote.Reference, web.ReferencePrefix),
		"reference %q should carry the %s prefix", body.Quote.Reference, web.ReferencePrefix)

	// Selecting again returns the same quote without a version bump.
	resp = backend.request(t, http.MethodPost, "/api/quotes/select",
		map[string]string{"quoteType": "removals"}, sessionHeader(session))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `W/"v1"`, resp.Header.Get("ETag"))
	firstRef := body.Quote.Reference
	decodeBody(t, resp, &body)
	assert.Equal(t, firstRef, body.Quote.Reference)
}

func TestSelectNormalizesUnknownType(t *testing.T) {
	backend := setupTest(t)
	session := backend.newSession(t)

	resp := backend.request(t, http.MethodPost, "/api/quotes/select",
		map[string]string{"quoteType": "REMOVALS"}, sessionHeader(session))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		Quote struct {
			Type string `json:"type"`
		} `json:"quote"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "removals", body.Quote.Type)

	// Garbage falls back to the default type.
	resp = backend.request(t, http.MethodPost, "/api/quotes/select",
		map[string]string{"quoteType": "banana"}, sessionHeader(session))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeBody(t, resp, &body)
	assert.Equal(t, string(quote.DefaultType), body.Quote.Type)
}

func TestListQuotesConditional(t *testing.T) {
	backend := setupTest(t)
	session := backend.newSession(t)

	resp := backend.request(t, http.MethodGet, "/api/quotes", nil, sessionHeader(session))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	assert.Equal(t, `W/"v0"`, etag)
	var body struct {
		Quotes []json.RawMessage `json:"quotes"`
	}
	decodeBody(t, resp, &body)
	assert.Empty(t, body.Quotes)

	// Matching token short-circuits.
	resp = backend.request(t, http.MethodGet, "/api/quotes", nil, map[string]string{
		web.GuestSessionHeader: session.String(),
		"If-None-Match":        etag,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	// A write invalidates it.
	resp = backend.request(t, http.MethodPost, "/api/quotes/select",
		map[string]string{"quoteType": "send"}, sessionHeader(session))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = backend.request(t, http.MethodGet, "/api/quotes", nil, map[string]string{
		web.GuestSessionHeader: session.String(),
		"If-None-Match":        etag,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `W/"v1"`, resp.Header.Get("ETag"))
	decodeBody(t, resp, &body)
	assert.Len(t, body.Quotes, 1)
}

func TestSaveQuoteOptimisticConcurrency(t *testing.T) {
	backend := setupTest(t)
	session := backend.newSession(t)

	resp := backend.request(t, http.MethodPost, "/api/quotes/select",
		map[string]string{"quoteType": "send"}, sessionHeader(session))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	var created struct {
		Quote struct {
			Reference string `json:"reference"`
		} `json:"quote"`
	}
	decodeBody(t, resp, &created)

	record := quote.NewSkeleton(created.Quote.Reference)
	record.DriverCount = 2

	resp = backend.request(t, http.MethodPut, "/api/quotes/send",
		map[string]any{"quote": record}, map[string]string{
			web.GuestSessionHeader: session.String(),
			"If-Match":             etag,
		})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, `W/"v2"`, resp.Header.Get("ETag"))

	// Replaying the stale token must fail.
	resp = backend.request(t, http.MethodPut, "/api/quotes/send",
		map[string]any{"quote": record}, map[string]string{
			web.GuestSessionHeader: session.String(),
			"If-Match":             etag,
		})
	resp.Body.Close()
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	// The successful write is visible.
	resp = backend.request(t, http.MethodGet, "/api/quotes/send", nil, sessionHeader(session))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Quote struct {
			Quote *quote.QuoteRecord `json:"quote"`
		} `json:"quote"`
	}
	decodeBody(t, resp, &got)
	require.NotNil(t, got.Quote.Quote)
	assert.Equal(t, 2, got.Quote.Quote.DriverCount)
	assert.Equal(t, created.Quote.Reference, got.Quote.Quote.Reference)
}

func TestGetQuoteNotFound(t *testing.T) {
	backend := setupTest(t)
	session := backend.newSession(t)

	resp := backend.request(t, http.MethodGet, "/api/quotes/receive", nil, sessionHeader(session))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = backend.request(t, http.MethodGet, "/api/quotes/banana", nil, sessionHeader(session))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteQuote(t *testing.T) {
	backend := setupTest(t)
	session := backend.newSession(t)

	resp := backend.request(t, http.MethodPost, "/api/quotes/select",
		map[string]string{"quoteType": "receive"}, sessionHeader(session))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = backend.request(t, http.MethodDelete, "/api/quotes/receive", nil, sessionHeader(session))
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, `W/"v2"`, resp.Header.Get("ETag"))

	resp = backend.request(t, http.MethodGet, "/api/quotes/receive", nil, sessionHeader(session))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMissingSessionHeader(t *testing.T) {
	backend := setupTest(t)

	resp := backend.request(t, http.MethodGet, "/api/quotes", nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = backend.request(t, http.MethodGet, "/api/quotes", nil, map[string]string{
		web.GuestSessionHeader: "not-a-uuid",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListSessionsAdmin(t *testing.T) {
	backend := setupTest(t)
	first := backend.newSession(t)
	second := backend.newSession(t)

	resp := backend.request(t, http.MethodPost, "/api/quotes/select",
		map[string]string{"quoteType": "send"}, sessionHeader(first))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = backend.request(t, http.MethodGet, "/api/admin/sessions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Sessions []struct {
			SessionID uuid.UUID         `json:"sessionId"`
			Version   int64             `json:"version"`
			Quotes    []json.RawMessage `json:"quotes"`
		} `json:"sessions"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Sessions, 2)

	byID := map[uuid.UUID]int{}
	for _, s := range body.Sessions {
		byID[s.SessionID] = len(s.Quotes)
	}
	assert.Equal(t, 1, byID[first])
	assert.Equal(t, 0, byID[second])
}

func TestQuoteEventsPublished(t *testing.T) {
	backend := setupTest(t)
	session := backend.newSession(t)

	createQueue := backend.bus.GetQuoteEventQueue(ev.ActionCreate)
	subID, ch, err := createQueue.Subscribe(session)
	require.NoError(t, err)
	defer createQueue.DeSubscribe(subID)

	resp := backend.request(t, http.MethodPost, "/api/quotes/select",
		map[string]string{"quoteType": "send"}, sessionHeader(session))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	select {
	case msg := <-ch:
		assert.Equal(t, session, msg.SessionID)
		assert.Equal(t, quote.TypeSend, msg.QuoteType)
		assert.True(t, strings.HasPrefix(msg.Reference, web.ReferencePrefix))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for create event")
	}
}
