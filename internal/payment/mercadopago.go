package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

const mercadoPagoBaseURL = "https://api.mercadopago.com"

// MercadoPagoConfig contains configuration for the domestic processor.
type MercadoPagoConfig struct {
	AccessToken string

	// BaseURL overrides the API host, used by tests. Defaults to the
	// production Mercado Pago API.
	BaseURL string

	Timeout time.Duration
}

// MercadoPagoClient implements Client against the Mercado Pago preapproval
// (subscription) API. Mercado Pago serves the domestic country set and
// bills in ARS.
type MercadoPagoClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewMercadoPagoClient creates the domestic processor client.
func NewMercadoPagoClient(cfg MercadoPagoConfig) *MercadoPagoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = mercadoPagoBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &MercadoPagoClient{
		token:   cfg.AccessToken,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *MercadoPagoClient) Processor() domain.Processor {
	return domain.ProcessorMercadoPago
}

// preapproval mirrors the subset of the Mercado Pago preapproval resource
// the engine reads and writes.
type preapproval struct {
	ID               string `json:"id,omitempty"`
	Reason           string `json:"reason,omitempty"`
	ExternalRef      string `json:"external_reference,omitempty"`
	PayerEmail       string `json:"payer_email,omitempty"`
	PreapprovalPlan  string `json:"preapproval_plan_id,omitempty"`
	Status           string `json:"status,omitempty"`
	InitPoint        string `json:"init_point,omitempty"`
	BackURL          string `json:"back_url,omitempty"`
	NextPaymentDate  string `json:"next_payment_date,omitempty"`
	DateOfExpiration string `json:"date_of_expiration,omitempty"`
	AutoRecurring    *struct {
		Frequency         int     `json:"frequency,omitempty"`
		FrequencyType     string  `json:"frequency_type,omitempty"`
		TransactionAmount float64 `json:"transaction_amount,omitempty"`
		CurrencyID        string  `json:"currency_id,omitempty"`
	} `json:"auto_recurring,omitempty"`
}

// CreateCheckout creates a preapproval and returns its init point as the
// checkout URL. Tenant attribution travels in external_reference because
// preapprovals have no free-form metadata. A configured preapproval plan
// ID takes precedence; without one the recurrence is spelled out inline
// from the catalog amount.
func (c *MercadoPagoClient) CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*CheckoutSession, error) {
	body := map[string]any{
		"external_reference": fmt.Sprintf("%s:%s:%s:%s", params.TenantID, params.UserID, params.PlanID, params.BillingCycle),
		"reason":             fmt.Sprintf("fieldkeep %s (%s)", params.PlanID, params.BillingCycle),
		"back_url":           params.SuccessURL,
	}
	if params.PriceRef != "" {
		body["preapproval_plan_id"] = params.PriceRef
	} else {
		frequency := 1
		if params.BillingCycle == domain.BillingYearly {
			frequency = 12
		}
		body["auto_recurring"] = map[string]any{
			"frequency":          frequency,
			"frequency_type":     "months",
			"transaction_amount": float64(params.AmountCents) / 100,
			"currency_id":        params.Currency,
		}
	}
	if params.CustomerEmail != "" {
		body["payer_email"] = params.CustomerEmail
	}

	var resp preapproval
	if err := c.do(ctx, http.MethodPost, "/preapproval", body, &resp, "checkout.create"); err != nil {
		return nil, err
	}

	currency := "ARS"
	if resp.AutoRecurring != nil && resp.AutoRecurring.CurrencyID != "" {
		currency = resp.AutoRecurring.CurrencyID
	}

	session := &CheckoutSession{
		Processor: domain.ProcessorMercadoPago,
		URL:       resp.InitPoint,
		Currency:  currency,
	}
	if resp.DateOfExpiration != "" {
		if t, err := time.Parse(time.RFC3339, resp.DateOfExpiration); err == nil {
			session.ExpiresAt = t
		}
	}
	return session, nil
}

// GetSubscription looks up a preapproval by ID.
func (c *MercadoPagoClient) GetSubscription(ctx context.Context, processorSubscriptionID string) (*ProcessorSubscription, error) {
	var resp preapproval
	path := "/preapproval/" + processorSubscriptionID
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, "subscription.get"); err != nil {
		return nil, err
	}

	out := &ProcessorSubscription{
		ID:     resp.ID,
		Status: resp.Status,
		PlanID: resp.PreapprovalPlan,
	}
	if resp.AutoRecurring != nil {
		out.AmountCents = int64(resp.AutoRecurring.TransactionAmount * 100)
		out.Currency = resp.AutoRecurring.CurrencyID
	}
	if resp.NextPaymentDate != "" {
		if t, err := time.Parse(time.RFC3339, resp.NextPaymentDate); err == nil {
			out.CurrentPeriodEnd = t
		}
	}
	return out, nil
}

// CancelSubscription sets the preapproval status to cancelled.
func (c *MercadoPagoClient) CancelSubscription(ctx context.Context, processorSubscriptionID string) error {
	body := map[string]any{"status": "cancelled"}
	path := "/preapproval/" + processorSubscriptionID
	return c.do(ctx, http.MethodPut, path, body, &preapproval{}, "subscription.cancel")
}

// do performs one authenticated JSON round trip and classifies failures.
func (c *MercadoPagoClient) do(ctx context.Context, method, path string, body any, out any, op string) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return classify(string(domain.ProcessorMercadoPago), op, 0, "encode request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return classify(string(domain.ProcessorMercadoPago), op, 0, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(string(domain.ProcessorMercadoPago), op, 0, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classify(string(domain.ProcessorMercadoPago), op, resp.StatusCode, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(string(domain.ProcessorMercadoPago), op, resp.StatusCode, string(payload), nil)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return classify(string(domain.ProcessorMercadoPago), op, resp.StatusCode, "decode response", err)
		}
	}
	return nil
}
