package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/middleware"
	"github.com/ortegalabs/fieldkeep/internal/service"
	"github.com/ortegalabs/fieldkeep/internal/webhook"
)

// maxWebhookBody bounds webhook payload reads. Processor events are a few
// KB; anything near the limit is hostile.
const maxWebhookBody = 1 << 20

// PaymentHandler serves the payment engine's HTTP endpoints.
type PaymentHandler struct {
	checkout      *service.CheckoutService
	subscriptions *service.SubscriptionService
	ingestor      *webhook.Ingestor
	validate      *validator.Validate
	logger        *slog.Logger
}

func NewPaymentHandler(
	checkout *service.CheckoutService,
	subscriptions *service.SubscriptionService,
	ingestor *webhook.Ingestor,
	logger *slog.Logger,
) *PaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{
		checkout:      checkout,
		subscriptions: subscriptions,
		ingestor:      ingestor,
		validate:      validator.New(),
		logger:        logger,
	}
}

type checkoutRequest struct {
	PlanID       string `json:"planId" validate:"required"`
	BillingCycle string `json:"billingCycle" validate:"omitempty,oneof=monthly yearly"`
	Country      string `json:"country" validate:"omitempty,len=2,alpha"`
}

type checkoutResponse struct {
	CheckoutURL     string `json:"checkoutUrl"`
	Processor       string `json:"processor"`
	Currency        string `json:"currency"`
	UserCountry     string `json:"userCountry"`
	DetectionMethod string `json:"detectionMethod"`
}

// Checkout handles POST /payments/checkout.
func (h *PaymentHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		ErrorResponse(w, r, domain.Unauthorized("checkout", "authentication required"))
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, domain.Invalid("checkout", "invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ErrorResponse(w, r, domain.Invalid("checkout", "invalid request: "+err.Error()))
		return
	}

	cycle, ok := domain.ParseBillingCycle(req.BillingCycle)
	if !ok {
		ErrorResponse(w, r, domain.Invalid("checkout", "invalid billing cycle: "+req.BillingCycle))
		return
	}

	result, err := h.checkout.Checkout(r.Context(), service.CheckoutRequest{
		Identity:       identity,
		PlanID:         domain.PlanID(req.PlanID),
		BillingCycle:   cycle,
		Country:        req.Country,
		ClientIP:       middleware.GetClientIPFromContext(r.Context()),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	})
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	JSONResponse(w, http.StatusOK, checkoutResponse{
		CheckoutURL:     result.CheckoutURL,
		Processor:       string(result.Processor),
		Currency:        result.Currency,
		UserCountry:     result.UserCountry,
		DetectionMethod: string(result.DetectionMethod),
	})
}

// Webhook handles POST /payments/webhook/{processor}. Public: authenticity
// is established per-processor by the ingestor. Returns 200 promptly on
// every verified delivery regardless of reconciliation outcome.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	processor, ok := domain.ParseProcessor(r.PathValue("processor"))
	if !ok {
		ErrorResponse(w, r, domain.Invalid("webhook", "unsupported processor: "+r.PathValue("processor")))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		ErrorResponse(w, r, domain.Invalid("webhook", "failed to read payload"))
		return
	}

	if err := h.ingestor.Ingest(r.Context(), processor, payload, r.Header); err != nil {
		ErrorResponse(w, r, err)
		return
	}

	JSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}

type subscriptionResponse struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	PlanID           string    `json:"planId,omitempty"`
	AmountCents      int64     `json:"amountCents,omitempty"`
	Currency         string    `json:"currency,omitempty"`
	CurrentPeriodEnd time.Time `json:"currentPeriodEnd,omitzero"`
}

// GetSubscription handles GET /payments/subscription/{processor}/{id}:
// a bearer-gated passthrough to the processor's subscription lookup.
func (h *PaymentHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	processor, ok := domain.ParseProcessor(r.PathValue("processor"))
	if !ok {
		ErrorResponse(w, r, domain.Invalid("subscription.lookup", "unsupported processor: "+r.PathValue("processor")))
		return
	}
	id := r.PathValue("id")
	if id == "" {
		ErrorResponse(w, r, domain.Invalid("subscription.lookup", "missing subscription id"))
		return
	}

	sub, err := h.subscriptions.Lookup(r.Context(), processor, id)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	JSONResponse(w, http.StatusOK, subscriptionResponse{
		ID:               sub.ID,
		Status:           sub.Status,
		PlanID:           sub.PlanID,
		AmountCents:      sub.AmountCents,
		Currency:         sub.Currency,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	})
}

type cancelRequest struct {
	Processor      string `json:"processor" validate:"required"`
	SubscriptionID string `json:"subscriptionId" validate:"required"`
}

type cancelResponse struct {
	SubscriptionID string `json:"subscriptionId"`
	State          string `json:"state"`
	Version        int64  `json:"version"`
}

// CancelSubscription handles POST /payments/subscription/cancel.
func (h *PaymentHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		ErrorResponse(w, r, domain.Unauthorized("subscription.cancel", "authentication required"))
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, domain.Invalid("subscription.cancel", "invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ErrorResponse(w, r, domain.Invalid("subscription.cancel", "invalid request: "+err.Error()))
		return
	}
	processor, ok := domain.ParseProcessor(req.Processor)
	if !ok {
		ErrorResponse(w, r, domain.Invalid("subscription.cancel", "unsupported processor: "+req.Processor))
		return
	}

	sub, err := h.subscriptions.Cancel(r.Context(), identity.TenantID, processor, req.SubscriptionID)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	JSONResponse(w, http.StatusOK, cancelResponse{
		SubscriptionID: sub.ProcessorSubscriptionID,
		State:          string(sub.State),
		Version:        sub.Version,
	})
}

type detectCountryResponse struct {
	Country string `json:"country"`
	Method  string `json:"method"`
}

// DetectCountry handles GET /payments/detect-country: a public diagnostic
// exposing the detection chain's verdict for the calling client.
func (h *PaymentHandler) DetectCountry(w http.ResponseWriter, r *http.Request) {
	country, method := h.checkout.DetectCountry(
		r.Context(),
		r.URL.Query().Get("country"),
		middleware.GetClientIPFromContext(r.Context()),
		r.Header.Get("Accept-Language"),
	)

	JSONResponse(w, http.StatusOK, detectCountryResponse{
		Country: country,
		Method:  string(method),
	})
}
