package remote_test // Use _test suffix for test package

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranz-r/quote-engine/quote"
	"github.com/tranz-r/quote-engine/remote"
)

func TestEnsureGuestCachesIdentity(t *testing.T) {
	guest := uuid.New()
	var seenHeaders []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/session", r.URL.Path)
		seenHeaders = append(seenHeaders, r.Header.Get(remote.GuestSessionHeader))
		json.NewEncoder(w).Encode(map[string]string{"guestId": guest.String()})
	}))
	defer server.Close()

	client := remote.NewHTTPClient(server.URL, nil)
	ctx := context.Background()

	id, err := client.EnsureGuest(ctx)
	require.NoError(t, err)
	assert.Equal(t, guest, id)
	assert.Equal(t, guest, client.GuestID())

	// The held identity rides along on the next ensure.
	_, err = client.EnsureGuest(ctx)
	require.NoError(t, err)
	require.Len(t, seenHeaders, 2)
	assert.Empty(t, seenHeaders[0])
	assert.Equal(t, guest.String(), seenHeaders[1])
}

func TestEnsureGuestFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := remote.NewHTTPClient(server.URL, nil)
	_, err := client.EnsureGuest(context.Background())
	var sessionErr *remote.SessionError
	assert.ErrorAs(t, err, &sessionErr)
}

func TestLoadQuotesNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `W/"v3"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `W/"v3"`)
		json.NewEncoder(w).Encode(map[string]any{
			"quotes": []map[string]any{{
				"id":        uuid.New(),
				"type":      "send",
				"reference": "TRZ-AB12CD34",
				"quote":     map[string]any{"reference": "TRZ-AB12CD34", "driverCount": 2},
			}},
		})
	}))
	defer server.Close()

	client := remote.NewHTTPClient(server.URL, nil)
	ctx := context.Background()

	res, err := client.LoadQuotes(ctx, "")
	require.NoError(t, err)
	require.Len(t, res.Quotes, 1)
	assert.Equal(t, `W/"v3"`, res.Etag)
	require.NotNil(t, res.Quotes[0].Quote)
	assert.Equal(t, 2, res.Quotes[0].Quote.DriverCount)

	// Unmodified is "no change", not "empty backend": same token back.
	res, err = client.LoadQuotes(ctx, `W/"v3"`)
	require.NoError(t, err)
	assert.Empty(t, res.Quotes)
	assert.Equal(t, `W/"v3"`, res.Etag)
}

func TestSelectQuoteTypeWithoutReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"quote": map[string]any{"id": uuid.New(), "type": "send"},
		})
	}))
	defer server.Close()

	client := remote.NewHTTPClient(server.URL, nil)
	_, err := client.SelectQuoteType(context.Background(), quote.TypeSend)
	var creationErr *remote.CreationError
	require.ErrorAs(t, err, &creationErr)
	assert.Equal(t, "send", creationErr.QuoteType)
}

func TestSaveQuoteConflictStatuses(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusPreconditionFailed} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, `W/"v1"`, r.Header.Get("If-Match"))
				w.WriteHeader(status)
			}))
			defer server.Close()

			client := remote.NewHTTPClient(server.URL, nil)
			_, err := client.SaveQuote(context.Background(), quote.TypeSend, quote.NewSkeleton("TRZ-X"), `W/"v1"`)
			var conflict *remote.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, `W/"v1"`, conflict.Presented)
		})
	}
}

func TestSaveQuoteReturnsFreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Quote *quote.QuoteRecord `json:"quote"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.Quote)
		assert.Equal(t, "TRZ-X", body.Quote.Reference)
		w.Header().Set("ETag", `W/"v2"`)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := remote.NewHTTPClient(server.URL, nil)
	etag, err := client.SaveQuote(context.Background(), quote.TypeSend, quote.NewSkeleton("TRZ-X"), `W/"v1"`)
	require.NoError(t, err)
	assert.Equal(t, `W/"v2"`, etag)
}

func TestGetQuoteVariants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/quotes/send":
			if r.Header.Get("If-None-Match") == `W/"v5"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `W/"v5"`)
			json.NewEncoder(w).Encode(map[string]any{
				"quote": map[string]any{"type": "send", "reference": "TRZ-Y"},
			})
		case "/api/quotes/receive":
			w.Header().Set("ETag", `W/"v5"`)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := remote.NewHTTPClient(server.URL, nil)
	ctx := context.Background()

	got, etag, err := client.GetQuote(ctx, quote.TypeSend, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TRZ-Y", got.Reference)
	assert.Equal(t, `W/"v5"`, etag)

	got, etag, err = client.GetQuote(ctx, quote.TypeSend, `W/"v5"`)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, `W/"v5"`, etag)

	got, _, err = client.GetQuote(ctx, quote.TypeReceive, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}
