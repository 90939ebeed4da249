package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/findById/party", r.URL.Path)
		assert.Equal(t, "Token test-key", r.Header.Get("Authorization"))

		var q map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "7701234567", q["query"])

		_, _ = w.Write([]byte(`{"suggestions":[{"value":"ООО Ромашка","data":{
			"emails":[{"value":"info@romashka.ru"}],
			"phones":[{"value":"+7 495 000-00-01"}],
			"address":{"value":"г Москва, ул Ленина, д 1"}}}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	contact, err := c.Lookup(context.Background(), "7701234567")
	require.NoError(t, err)
	assert.Equal(t, "ООО Ромашка", contact.CompanyName)
	assert.Equal(t, "info@romashka.ru", contact.Email)
	assert.Equal(t, "+7 495 000-00-01", contact.Phone)
	assert.Equal(t, "г Москва, ул Ленина, д 1", contact.Address)
}

func TestLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"suggestions":[]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Lookup(context.Background(), "0000000000")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Lookup(context.Background(), "7701234567")
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrNotFound))
}

func TestLookupRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"suggestions":[{"value":"ООО Тест","data":{"address":{"value":"x"}}}]}`))
	}))
	defer srv.Close()

	// 10 rps: the second call must wait roughly one token interval.
	c := NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(10))
	ctx := context.Background()

	start := time.Now()
	_, err := c.Lookup(ctx, "1")
	require.NoError(t, err)
	_, err = c.Lookup(ctx, "2")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
