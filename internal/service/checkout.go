package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/geo"
	"github.com/ortegalabs/fieldkeep/internal/payment"
)

// PlanPricing is a processor-specific price for one plan/cycle pair.
type PlanPricing struct {
	// PriceRef is the processor's price identifier (Stripe price ID,
	// Mercado Pago preapproval plan ID).
	PriceRef    string
	AmountCents int64
	Currency    string
}

type catalogKey struct {
	processor domain.Processor
	plan      domain.PlanID
	cycle     domain.BillingCycle
}

// PlanCatalog maps plan/cycle pairs to per-processor pricing.
type PlanCatalog struct {
	prices map[catalogKey]PlanPricing
}

func NewPlanCatalog() *PlanCatalog {
	return &PlanCatalog{prices: make(map[catalogKey]PlanPricing)}
}

func (c *PlanCatalog) Set(processor domain.Processor, plan domain.PlanID, cycle domain.BillingCycle, pricing PlanPricing) {
	c.prices[catalogKey{processor, plan, cycle}] = pricing
}

func (c *PlanCatalog) Price(processor domain.Processor, plan domain.PlanID, cycle domain.BillingCycle) (PlanPricing, bool) {
	p, ok := c.prices[catalogKey{processor, plan, cycle}]
	return p, ok
}

// CheckoutService orchestrates checkout creation: resolve the user's
// country, select a processor, price the plan, and mint a hosted checkout
// session. No local state is written; the subscription row appears when
// the completion webhook lands.
type CheckoutService struct {
	detector   *geo.Detector
	selector   payment.Selector
	clients    map[domain.Processor]payment.Client
	catalog    *PlanCatalog
	successURL string
	cancelURL  string
	logger     *slog.Logger
}

func NewCheckoutService(
	detector *geo.Detector,
	selector payment.Selector,
	clients map[domain.Processor]payment.Client,
	catalog *PlanCatalog,
	successURL, cancelURL string,
	logger *slog.Logger,
) *CheckoutService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutService{
		detector:   detector,
		selector:   selector,
		clients:    clients,
		catalog:    catalog,
		successURL: successURL,
		cancelURL:  cancelURL,
		logger:     logger,
	}
}

// CheckoutRequest carries everything the checkout path needs from the
// HTTP layer.
type CheckoutRequest struct {
	Identity domain.AuthenticatedIdentity

	PlanID       domain.PlanID
	BillingCycle domain.BillingCycle

	// Country is the optional explicit country from the request body. It
	// outranks every detection signal when well-formed.
	Country string

	ClientIP       string
	AcceptLanguage string
}

// CheckoutResult is returned to the caller for redirecting to the hosted
// checkout page.
type CheckoutResult struct {
	CheckoutURL     string
	Processor       domain.Processor
	Currency        string
	UserCountry     string
	DetectionMethod geo.Method
}

// Checkout runs the synchronous checkout path. One bounded outbound call
// to the selected processor; processor unavailability surfaces as a
// retryable error rather than hanging.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if !domain.ValidPlan(req.PlanID) {
		return nil, domain.Invalid("checkout.create", "unknown plan: "+string(req.PlanID))
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = domain.BillingMonthly
	}

	stored := req.Country
	if stored == "" {
		stored = req.Identity.Country
	}
	country, method := s.detector.Detect(ctx, stored, req.ClientIP, req.AcceptLanguage)

	processor := s.selector.Select(country)
	client, ok := s.clients[processor]
	if !ok {
		return nil, domain.Errorf(domain.EINTERNAL, "checkout.create", "no client configured for processor %s", processor)
	}

	pricing, ok := s.catalog.Price(processor, req.PlanID, cycle)
	if !ok {
		return nil, domain.Errorf(domain.EINTERNAL, "checkout.create",
			"no pricing for plan %s (%s) on %s", req.PlanID, cycle, processor)
	}

	session, err := client.CreateCheckout(ctx, payment.CreateCheckoutParams{
		TenantID:      req.Identity.TenantID.String(),
		UserID:        req.Identity.UserID.String(),
		PlanID:        req.PlanID,
		BillingCycle:  cycle,
		PriceRef:      pricing.PriceRef,
		AmountCents:   pricing.AmountCents,
		Currency:      pricing.Currency,
		CustomerEmail: req.Identity.Email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnavailable):
			return nil, domain.Unavailable(err, "checkout.create", "payment processor is unavailable, please retry")
		default:
			return nil, domain.WrapError(err, domain.EPAYMENT, "checkout.create", "payment processor rejected the checkout request")
		}
	}

	currency := session.Currency
	if currency == "" {
		currency = pricing.Currency
	}

	s.logger.Info("checkout session created",
		slog.String("tenant_id", req.Identity.TenantID.String()),
		slog.String("plan", string(req.PlanID)),
		slog.String("processor", string(processor)),
		slog.String("country", country),
		slog.String("detection_method", string(method)))

	return &CheckoutResult{
		CheckoutURL:     session.URL,
		Processor:       processor,
		Currency:        currency,
		UserCountry:     country,
		DetectionMethod: method,
	}, nil
}

// DetectCountry exposes the detection chain for the diagnostic endpoint.
func (s *CheckoutService) DetectCountry(ctx context.Context, storedCountry, ip, acceptLanguage string) (string, geo.Method) {
	return s.detector.Detect(ctx, storedCountry, ip, acceptLanguage)
}
