package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutor-core-api/pkg/middleware/requestid"
)

// ErrGatewayUnavailable is returned when the provider cannot create a checkout.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// CheckoutRequest describes an amount to collect for a merchant reference.
type CheckoutRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	ReturnURL   string
	Description string
}

// Checkout is the provider's answer to a checkout request.
type Checkout struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
	Status      string `json:"status"`
}

// Client talks to the hosted checkout provider over JSON.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient constructs a client. A zero timeout falls back to ten seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type checkoutPayload struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	ReturnURL   string `json:"return_url"`
	Description string `json:"description,omitempty"`
}

// CreateCheckout registers a payment and returns where the payer should be redirected.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.Reference == "" {
		return nil, fmt.Errorf("checkout reference is required")
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("checkout amount must be positive")
	}

	body, err := json.Marshal(checkoutPayload{
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Reference:   req.Reference,
		ReturnURL:   req.ReturnURL,
		Description: req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal checkout: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if id := requestid.FromContext(ctx); id != "" {
		httpReq.Header.Set(requestid.HeaderKey, id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var checkout Checkout
	if err := json.NewDecoder(resp.Body).Decode(&checkout); err != nil {
		return nil, fmt.Errorf("%w: decode checkout: %v", ErrGatewayUnavailable, err)
	}
	if checkout.RedirectURL == "" {
		return nil, fmt.Errorf("%w: checkout without redirect url", ErrGatewayUnavailable)
	}
	return &checkout, nil
}
