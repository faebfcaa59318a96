package domain

// PlanID identifies a SaaS plan. The set is fixed; tenant-admin CRUD does
// not create plans, it only assigns them.
type PlanID string

const (
	PlanStarter      PlanID = "starter"
	PlanProfessional PlanID = "professional"
	PlanEnterprise   PlanID = "enterprise"
)

// ValidPlan reports whether id names a known plan.
func ValidPlan(id PlanID) bool {
	switch id {
	case PlanStarter, PlanProfessional, PlanEnterprise:
		return true
	}
	return false
}

// PlanStatus is the tenant-level projection of the subscription lifecycle.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanSuspended PlanStatus = "suspended"
	PlanExpired   PlanStatus = "expired"
)

// PlanStatusFor projects a subscription state onto the tenant plan status.
// Total: every subscription state maps to a defined status.
func PlanStatusFor(s SubscriptionState) PlanStatus {
	switch s {
	case StateActive:
		return PlanActive
	case StatePending, StatePastDue:
		return PlanSuspended
	default: // cancelled, expired
		return PlanExpired
	}
}
