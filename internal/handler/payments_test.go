package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/ortegalabs/fieldkeep/internal/auth"
	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/geo"
	"github.com/ortegalabs/fieldkeep/internal/handler"
	"github.com/ortegalabs/fieldkeep/internal/middleware"
	"github.com/ortegalabs/fieldkeep/internal/payment"
	"github.com/ortegalabs/fieldkeep/internal/queue"
	"github.com/ortegalabs/fieldkeep/internal/router"
	"github.com/ortegalabs/fieldkeep/internal/routes"
	"github.com/ortegalabs/fieldkeep/internal/service"
	"github.com/ortegalabs/fieldkeep/internal/store"
	"github.com/ortegalabs/fieldkeep/internal/tenant"
	"github.com/ortegalabs/fieldkeep/internal/webhook"
)

const stripeTestSecret = "whsec_handler_test"

// testServer is the HTTP surface wired against in-memory infrastructure.
type testServer struct {
	router   *router.Router
	identity domain.AuthenticatedIdentity
	events   *queue.Memory
	subs     *store.MemorySubscriptionRepository
}

func newTestServer(t *testing.T, clients map[domain.Processor]payment.Client) *testServer {
	t.Helper()

	identity := domain.AuthenticatedIdentity{
		UserID:   uuid.New(),
		TenantID: uuid.New(),
		Role:     domain.RoleAdmin,
		Email:    "owner@example.com",
	}
	verifier := &auth.MockVerifier{
		VerifyFunc: func(_ context.Context, token string) (domain.AuthenticatedIdentity, error) {
			if token != "good-token" {
				return domain.AuthenticatedIdentity{}, domain.Unauthorized("auth.verify", "token is not active")
			}
			return identity, nil
		},
	}

	subs := store.NewMemorySubscriptionRepository()
	tenants := store.NewMemoryTenantStore()
	tenants.Seed(&tenant.Tenant{ID: identity.TenantID})

	reconciler := service.NewReconciler(
		subs,
		store.NewMemoryIdempotencyStore(),
		service.NewEntitlementUpdater(tenants, nil),
		service.NewKeyedLock(),
		time.Second,
		nil,
	)

	catalog := service.NewPlanCatalog()
	catalog.Set(domain.ProcessorStripe, domain.PlanProfessional, domain.BillingMonthly,
		service.PlanPricing{PriceRef: "price_pro_monthly", AmountCents: 2900, Currency: "USD"})

	checkout := service.NewCheckoutService(
		geo.NewDetector(nil, "US", nil),
		payment.NewSelector([]string{"AR"}),
		clients,
		catalog,
		"https://app.example.com/billing/success",
		"https://app.example.com/billing/cancel",
		nil,
	)

	events := queue.NewMemory(8)
	t.Cleanup(func() { events.Close() })
	ingestor := webhook.NewIngestor(map[domain.Processor]webhook.Normalizer{
		domain.ProcessorStripe: webhook.NewStripeNormalizer(stripeTestSecret),
	}, events, nil)

	h := handler.NewPaymentHandler(
		checkout,
		service.NewSubscriptionService(clients, reconciler, nil),
		ingestor,
		nil,
	)

	r := router.New(middleware.RequestID, middleware.WithClientIP())
	routes.RegisterPaymentRoutes(r, routes.PaymentDeps{Handler: h, Verifier: verifier})

	return &testServer{router: r, identity: identity, events: events, subs: subs}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer good-token")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestCheckoutEndpoint(t *testing.T) {
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{
			CreateCheckoutFunc: func(_ context.Context, params payment.CreateCheckoutParams) (*payment.CheckoutSession, error) {
				return &payment.CheckoutSession{
					Processor: domain.ProcessorStripe,
					URL:       "https://checkout.stripe.com/c/pay/cs_test",
					Currency:  "USD",
				}, nil
			},
		},
	})

	rec := ts.do(t, http.MethodPost, "/payments/checkout", map[string]string{
		"planId":       "professional",
		"billingCycle": "monthly",
	}, true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		CheckoutURL     string `json:"checkoutUrl"`
		Processor       string `json:"processor"`
		Currency        string `json:"currency"`
		UserCountry     string `json:"userCountry"`
		DetectionMethod string `json:"detectionMethod"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test", resp.CheckoutURL)
	assert.Equal(t, "stripe", resp.Processor)
	assert.Equal(t, "US", resp.UserCountry)
	assert.Equal(t, "default", resp.DetectionMethod)
}

func TestCheckoutRequiresAuth(t *testing.T) {
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{},
	})

	rec := ts.do(t, http.MethodPost, "/payments/checkout", map[string]string{"planId": "professional"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutRejectsUnknownPlan(t *testing.T) {
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{},
	})

	rec := ts.do(t, http.MethodPost, "/payments/checkout", map[string]string{"planId": "platinum"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.EINVALID, resp.Error.Code)
}

// A processor rejecting checkout creation is non-retryable for the
// caller and surfaces as a 400.
func TestCheckoutProcessorRejectionIsBadRequest(t *testing.T) {
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{
			CreateCheckoutFunc: func(_ context.Context, _ payment.CreateCheckoutParams) (*payment.CheckoutSession, error) {
				return nil, payment.ErrRejected
			},
		},
	})

	rec := ts.do(t, http.MethodPost, "/payments/checkout", map[string]string{"planId": "professional"}, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.EPAYMENT, resp.Error.Code)
}

func TestWebhookAcceptsSignedStripeEvent(t *testing.T) {
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{},
	})

	payload := []byte(`{"id": "evt_42", "type": "invoice.paid", "data": {"object": {"subscription": "sub_42"}}}`)
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    stripeTestSecret,
		Timestamp: time.Now(),
	})

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())
	assert.Equal(t, 1, ts.events.Len())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{},
	})

	payload := []byte(`{"id": "evt_42", "type": "invoice.paid", "data": {"object": {"subscription": "sub_42"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, ts.events.Len())
}

func TestWebhookRejectsUnknownProcessor(t *testing.T) {
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{},
	})

	rec := ts.do(t, http.MethodPost, "/payments/webhook/paypal", map[string]string{}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSubscriptionPassthrough(t *testing.T) {
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{
			GetSubscriptionFunc: func(_ context.Context, psid string) (*payment.ProcessorSubscription, error) {
				return &payment.ProcessorSubscription{
					ID:               psid,
					Status:           "active",
					AmountCents:      2900,
					Currency:         "USD",
					CurrentPeriodEnd: periodEnd,
				}, nil
			},
		},
	})

	rec := ts.do(t, http.MethodGet, "/payments/subscription/stripe/sub_42", nil, true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sub_42", resp.ID)
	assert.Equal(t, "active", resp.Status)
}

func TestCancelSubscriptionEndpoint(t *testing.T) {
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{},
	})

	now := time.Now().UTC()
	require.NoError(t, ts.subs.Insert(context.Background(), &domain.Subscription{
		ID:                      uuid.New(),
		TenantID:                ts.identity.TenantID,
		Processor:               domain.ProcessorStripe,
		ProcessorSubscriptionID: "sub_cancel_me",
		PlanID:                  domain.PlanProfessional,
		BillingCycle:            domain.BillingMonthly,
		State:                   domain.StateActive,
		Version:                 1,
		CurrentPeriodEnd:        now.Add(20 * 24 * time.Hour),
		CreatedAt:               now,
		UpdatedAt:               now,
	}))

	rec := ts.do(t, http.MethodPost, "/payments/subscription/cancel", map[string]string{
		"processor":      "stripe",
		"subscriptionId": "sub_cancel_me",
	}, true)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		SubscriptionID string `json:"subscriptionId"`
		State          string `json:"state"`
		Version        int64  `json:"version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sub_cancel_me", resp.SubscriptionID)
	assert.Equal(t, string(domain.StateCancelled), resp.State)
	assert.Equal(t, int64(2), resp.Version)
}

func TestDetectCountryEndpoint(t *testing.T) {
	ts := newTestServer(t, map[domain.Processor]payment.Client{
		domain.ProcessorStripe: &payment.MockClient{},
	})

	rec := ts.do(t, http.MethodGet, "/payments/detect-country?country=ar", nil, false)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Country string `json:"country"`
		Method  string `json:"method"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "AR", resp.Country)
	assert.Equal(t, string(geo.MethodProfile), resp.Method)
}
