package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// MercadoPagoNormalizer verifies Mercado Pago's x-signature HMAC and maps
// preapproval notifications onto the canonical taxonomy.
type MercadoPagoNormalizer struct {
	secret string

	// allowUnsigned accepts deliveries without an x-signature header.
	// Mercado Pago applications created before signed webhooks rolled out
	// still deliver unsigned events; keep this off unless migrating one.
	allowUnsigned bool
}

func NewMercadoPagoNormalizer(secret string, allowUnsigned bool) *MercadoPagoNormalizer {
	return &MercadoPagoNormalizer{secret: secret, allowUnsigned: allowUnsigned}
}

// mpNotification is the shared Mercado Pago webhook body shape.
type mpNotification struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		PreapprovalID     string `json:"preapproval_id"`
		ExternalReference string `json:"external_reference"`
	} `json:"data"`
	DateCreated time.Time `json:"date_created"`
}

// Verify checks the x-signature header: "ts=<unix>,v1=<hmac>", where the
// HMAC-SHA256 manifest is "id:<data.id>;request-id:<x-request-id>;ts:<ts>;"
// (request-id segment omitted when the header is absent).
func (n *MercadoPagoNormalizer) Verify(payload []byte, header http.Header) error {
	signature := header.Get("x-signature")
	if signature == "" {
		if n.allowUnsigned {
			return nil
		}
		return fmt.Errorf("missing x-signature header")
	}

	var ts, v1 string
	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("malformed x-signature header")
	}

	var body mpNotification
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("parse notification: %w", err)
	}
	if body.Data.ID == "" {
		return fmt.Errorf("notification has no data.id")
	}

	var manifest strings.Builder
	fmt.Fprintf(&manifest, "id:%s;", strings.ToLower(body.Data.ID))
	if requestID := header.Get("x-request-id"); requestID != "" {
		fmt.Fprintf(&manifest, "request-id:%s;", requestID)
	}
	fmt.Fprintf(&manifest, "ts:%s;", ts)

	mac := hmac.New(sha256.New, []byte(n.secret))
	mac.Write([]byte(manifest.String()))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(v1)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (n *MercadoPagoNormalizer) Normalize(payload []byte) (domain.CanonicalPaymentEvent, error) {
	var body mpNotification
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.CanonicalPaymentEvent{}, fmt.Errorf("parse notification: %w", err)
	}
	if body.Data.ID == "" {
		return domain.CanonicalPaymentEvent{}, fmt.Errorf("notification has no data.id")
	}

	rawEventID := body.ID.String()
	if rawEventID == "" {
		// Older notifications omit the top-level id; synthesize a stable
		// one from the payload identity so redeliveries still dedupe.
		rawEventID = body.Type + ":" + body.Data.ID + ":" + body.Action
	}

	occurred := body.DateCreated
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	ev := domain.CanonicalPaymentEvent{
		Processor:  domain.ProcessorMercadoPago,
		RawEventID: rawEventID,
		OccurredAt: occurred.UTC(),
		Currency:   "ARS",
		Payload:    payload,
	}

	switch body.Type {
	case "subscription_preapproval":
		ev.ProcessorSubscriptionID = body.Data.ID
		switch {
		case body.Action == "created":
			ev.Type = domain.EventSubscriptionCreated
		case body.Action == "" && body.Data.Status == "authorized":
			ev.Type = domain.EventSubscriptionCreated
		case body.Data.Status == "cancelled":
			ev.Type = domain.EventSubscriptionCancelled
		case body.Data.Status == "expired" || body.Data.Status == "finished":
			ev.Type = domain.EventSubscriptionExpired
		default:
			ev.Type = domain.EventUnknown
		}
	case "subscription_authorized_payment", "payment":
		ev.ProcessorSubscriptionID = body.Data.PreapprovalID
		if ev.ProcessorSubscriptionID == "" {
			ev.ProcessorSubscriptionID = body.Data.ID
		}
		switch body.Data.Status {
		case "approved", "accredited":
			ev.Type = domain.EventPaymentApproved
		case "rejected", "cancelled":
			ev.Type = domain.EventPaymentFailed
		default:
			ev.Type = domain.EventUnknown
		}
	default:
		ev.ProcessorSubscriptionID = body.Data.ID
		ev.Type = domain.EventUnknown
	}

	applyExternalReference(&ev, body.Data.ExternalReference)
	return ev, nil
}

// applyExternalReference parses the "tenant:user:plan:cycle" reference the
// checkout path embeds on preapprovals.
func applyExternalReference(ev *domain.CanonicalPaymentEvent, ref string) {
	if ref == "" {
		return
	}
	parts := strings.Split(ref, ":")
	if len(parts) < 3 {
		return
	}
	if id, err := uuid.Parse(parts[0]); err == nil {
		ev.TenantID = id
	}
	ev.PlanID = domain.PlanID(parts[2])
	if len(parts) >= 4 {
		if cycle, ok := domain.ParseBillingCycle(parts[3]); ok {
			ev.BillingCycle = cycle
		}
	}
}
