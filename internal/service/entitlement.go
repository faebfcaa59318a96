package service

import (
	"context"
	"log/slog"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/store"
)

// EntitlementUpdater projects subscription state onto the tenant's plan
// fields. Pure projection, so applying the same subscription twice yields
// the same tenant fields.
type EntitlementUpdater struct {
	tenants store.TenantStore
	logger  *slog.Logger
}

func NewEntitlementUpdater(tenants store.TenantStore, logger *slog.Logger) *EntitlementUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementUpdater{tenants: tenants, logger: logger}
}

// Apply writes the tenant projection derived from sub. Called by the
// reconciler inside the subscription's critical section, so entitlement
// and subscription state cannot visibly diverge.
func (u *EntitlementUpdater) Apply(ctx context.Context, sub *domain.Subscription) error {
	status := domain.PlanStatusFor(sub.State)
	err := u.tenants.UpdateEntitlement(ctx, sub.TenantID, sub.PlanID, status, sub.CurrentPeriodEnd)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "entitlement.apply", "failed to update tenant entitlement")
	}

	u.logger.Info("tenant entitlement updated",
		slog.String("tenant_id", sub.TenantID.String()),
		slog.String("plan", string(sub.PlanID)),
		slog.String("plan_status", string(status)))
	return nil
}
