package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tranz-r/quote-engine/quote"
)

// GuestSessionHeader carries the guest identity on every quote request.
const GuestSessionHeader = "X-Guest-Session"

// HTTPClient implements Client over the backend's JSON endpoints. The
// guest id obtained from EnsureGuest is remembered and attached to every
// subsequent request.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu      sync.Mutex
	guestID uuid.UUID
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client for the backend at baseURL. httpClient may
// be nil; http.DefaultClient is used then, leaving timeout behavior to the
// transport.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// GuestID returns the last ensured guest identity, uuid.Nil before the
// first EnsureGuest.
func (c *HTTPClient) GuestID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guestID
}

// AdoptGuest installs a previously issued guest identity, so requests
// authenticate without a fresh EnsureGuest round trip.
func (c *HTTPClient) AdoptGuest(id uuid.UUID) {
	c.mu.Lock()
	c.guestID = id
	c.mu.Unlock()
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if guest := c.GuestID(); guest != uuid.Nil {
		req.Header.Set(GuestSessionHeader, guest.String())
	}
	return c.http.Do(req)
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// EnsureGuest asks the backend for the guest identity tied to this client.
// Repeat calls re-present the held id so the backend can answer with the
// same identity instead of minting a duplicate.
func (c *HTTPClient) EnsureGuest(ctx context.Context) (uuid.UUID, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/session", nil, nil)
	if err != nil {
		return uuid.Nil, &SessionError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return uuid.Nil, &SessionError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	var body struct {
		GuestID uuid.UUID `json:"guestId"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return uuid.Nil, &SessionError{Err: err}
	}
	if body.GuestID == uuid.Nil {
		return uuid.Nil, &SessionError{Err: fmt.Errorf("backend returned empty guest id")}
	}
	c.mu.Lock()
	c.guestID = body.GuestID
	c.mu.Unlock()
	return body.GuestID, nil
}

// LoadQuotes performs a conditional GET over the whole collection. A 304
// comes back as an empty slice with the presented token unchanged.
func (c *HTTPClient) LoadQuotes(ctx context.Context, etag string) (*LoadResult, error) {
	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/quotes", nil, header)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	if resp.StatusCode == http.StatusNotModified {
		drain(resp)
		return &LoadResult{Quotes: []RemoteQuote{}, Etag: etag}, nil
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return nil, &LoadError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	newEtag := resp.Header.Get("ETag")
	var body struct {
		Quotes []RemoteQuote `json:"quotes"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, &LoadError{Err: err}
	}
	return &LoadResult{Quotes: body.Quotes, Etag: newEtag}, nil
}

// SelectQuoteType activates a quote type on the backend.
func (c *HTTPClient) SelectQuoteType(ctx context.Context, t quote.QuoteType) (*Selection, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/quotes/select", map[string]string{"quoteType": string(t)}, nil)
	if err != nil {
		return nil, &CreationError{QuoteType: string(t), Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		drain(resp)
		return nil, &CreationError{QuoteType: string(t), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	newEtag := resp.Header.Get("ETag")
	var body struct {
		Quote RemoteQuote `json:"quote"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, &CreationError{QuoteType: string(t), Err: err}
	}
	if body.Quote.Reference == "" {
		return nil, &CreationError{QuoteType: string(t)}
	}
	return &Selection{Quote: body.Quote, Etag: newEtag}, nil
}

// SaveQuote pushes the full record under the presented collection token.
func (c *HTTPClient) SaveQuote(ctx context.Context, t quote.QuoteType, record *quote.QuoteRecord, etag string) (string, error) {
	header := http.Header{}
	if etag != "" {
		header.Set("If-Match", etag)
	}
	resp, err := c.do(ctx, http.MethodPut, "/api/quotes/"+string(t), map[string]any{"quote": record}, header)
	if err != nil {
		return "", fmt.Errorf("failed to save quote %q: %w", t, err)
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return resp.Header.Get("ETag"), nil
	case http.StatusConflict, http.StatusPreconditionFailed:
		return "", &ConflictError{Presented: etag}
	default:
		return "", fmt.Errorf("failed to save quote %q: unexpected status %d", t, resp.StatusCode)
	}
}

// GetQuote is the conditional single-record load. A 304 yields (nil, etag,
// nil) exactly like the collection variant yields an empty list.
func (c *HTTPClient) GetQuote(ctx context.Context, t quote.QuoteType, etag string) (*RemoteQuote, string, error) {
	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/quotes/"+string(t), nil, header)
	if err != nil {
		return nil, "", &LoadError{Err: err}
	}
	switch resp.StatusCode {
	case http.StatusNotModified:
		drain(resp)
		return nil, etag, nil
	case http.StatusNotFound:
		drain(resp)
		return nil, resp.Header.Get("ETag"), nil
	case http.StatusOK:
		newEtag := resp.Header.Get("ETag")
		var body struct {
			Quote RemoteQuote `json:"quote"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return nil, "", &LoadError{Err: err}
		}
		return &body.Quote, newEtag, nil
	default:
		drain(resp)
		return nil, "", &LoadError{Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// DeleteQuote removes one backend-side record.
func (c *HTTPClient) DeleteQuote(ctx context.Context, t quote.QuoteType) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/quotes/"+string(t), nil, nil)
	if err != nil {
		return fmt.Errorf("failed to delete quote %q: %w", t, err)
	}
	drain(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to delete quote %q: unexpected status %d", t, resp.StatusCode)
	}
	return nil
}
