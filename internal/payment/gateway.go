package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/govsniper/govsniper/internal/resilience"
)

const defaultGatewayURL = "https://api.yookassa.ru/v3"

// HTTPGateway talks to the payment provider's REST API. Requests carry an
// Idempotence-Key so a retried create never produces two gateway payments.
type HTTPGateway struct {
	shopID     string
	secretKey  string
	returnURL  string
	baseURL    string
	httpClient *http.Client
}

// GatewayOption configures the HTTPGateway.
type GatewayOption func(*HTTPGateway)

// WithGatewayBaseURL overrides the provider endpoint, used in tests.
func WithGatewayBaseURL(u string) GatewayOption {
	return func(g *HTTPGateway) { g.baseURL = u }
}

// WithGatewayHTTPClient overrides the underlying HTTP client.
func WithGatewayHTTPClient(c *http.Client) GatewayOption {
	return func(g *HTTPGateway) { g.httpClient = c }
}

// NewHTTPGateway creates a gateway client authenticated with shop
// credentials. returnURL is where the client lands after confirming.
func NewHTTPGateway(shopID, secretKey, returnURL string, opts ...GatewayOption) *HTTPGateway {
	g := &HTTPGateway{
		shopID:     shopID,
		secretKey:  secretKey,
		returnURL:  returnURL,
		baseURL:    defaultGatewayURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type gatewayAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type gatewayConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type createPaymentRequest struct {
	Amount       gatewayAmount       `json:"amount"`
	Capture      bool                `json:"capture"`
	Description  string              `json:"description"`
	Confirmation gatewayConfirmation `json:"confirmation"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
}

type createPaymentResponse struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	Confirmation gatewayConfirmation `json:"confirmation"`
}

// CreatePayment registers a payment with the provider and returns its id and
// the confirmation URL.
func (g *HTTPGateway) CreatePayment(ctx context.Context, amount string, currency, description string, metadata map[string]string) (string, string, error) {
	body, err := json.Marshal(createPaymentRequest{
		Amount:       gatewayAmount{Value: amount, Currency: currency},
		Capture:      true,
		Description:  description,
		Confirmation: gatewayConfirmation{Type: "redirect", ReturnURL: g.returnURL},
		Metadata:     metadata,
	})
	if err != nil {
		return "", "", eris.Wrap(err, "gateway: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return "", "", eris.Wrap(err, "gateway: build request")
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", "", eris.Wrap(err, "gateway: create payment")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := eris.Errorf("gateway: create payment returned %d: %s", resp.StatusCode, string(raw))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", "", err
	}

	var out createPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", eris.Wrap(err, "gateway: decode response")
	}
	if out.ID == "" {
		return "", "", eris.New("gateway: response missing payment id")
	}
	if out.Confirmation.ConfirmationURL == "" {
		return "", "", eris.Errorf("gateway: payment %s has no confirmation url", out.ID)
	}
	return out.ID, out.Confirmation.ConfirmationURL, nil
}
