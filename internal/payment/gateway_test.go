package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govsniper/govsniper/internal/resilience"
)

func TestHTTPGatewayCreatePayment(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "shop-42", user)
		assert.Equal(t, "sk-secret", pass)
		gotKey = r.Header.Get("Idempotence-Key")

		var req createPaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "1990.00", req.Amount.Value)
		assert.Equal(t, "RUB", req.Amount.Currency)
		assert.True(t, req.Capture)
		assert.Equal(t, "redirect", req.Confirmation.Type)
		assert.Equal(t, "https://govsniper.ru/paid", req.Confirmation.ReturnURL)
		assert.Equal(t, "t-1", req.Metadata["tender_id"])

		json.NewEncoder(w).Encode(createPaymentResponse{
			ID:     "2d6f1a-000f-5000",
			Status: "pending",
			Confirmation: gatewayConfirmation{
				Type:            "redirect",
				ConfirmationURL: "https://gateway.test/confirm/2d6f1a",
			},
		})
	}))
	defer srv.Close()

	g := NewHTTPGateway("shop-42", "sk-secret", "https://govsniper.ru/paid", WithGatewayBaseURL(srv.URL))
	id, confirmURL, err := g.CreatePayment(context.Background(), "1990.00", "RUB", "Аудит тендера 123", map[string]string{"tender_id": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "2d6f1a-000f-5000", id)
	assert.Equal(t, "https://gateway.test/confirm/2d6f1a", confirmURL)
	assert.NotEmpty(t, gotKey)
}

func TestHTTPGatewayServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGateway("shop", "key", "https://example.com", WithGatewayBaseURL(srv.URL))
	_, _, err := g.CreatePayment(context.Background(), "990.00", "RUB", "x", nil)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestHTTPGatewayRejectsMissingConfirmation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createPaymentResponse{ID: "p-1", Status: "pending"})
	}))
	defer srv.Close()

	g := NewHTTPGateway("shop", "key", "https://example.com", WithGatewayBaseURL(srv.URL))
	_, _, err := g.CreatePayment(context.Background(), "990.00", "RUB", "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirmation url")
}
