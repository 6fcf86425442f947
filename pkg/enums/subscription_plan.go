package enums

import "fmt"

// SubscriptionPlan is the billing tier recorded on a tenant.
type SubscriptionPlan string

const (
	SubscriptionPlanBasic        SubscriptionPlan = "basic"
	SubscriptionPlanProfessional SubscriptionPlan = "professional"
	SubscriptionPlanEnterprise   SubscriptionPlan = "enterprise"
)

var validSubscriptionPlans = []SubscriptionPlan{
	SubscriptionPlanBasic,
	SubscriptionPlanProfessional,
	SubscriptionPlanEnterprise,
}

// String implements fmt.Stringer.
func (p SubscriptionPlan) String() string {
	return string(p)
}

// IsValid reports whether the value matches a known SubscriptionPlan.
func (p SubscriptionPlan) IsValid() bool {
	for _, candidate := range validSubscriptionPlans {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseSubscriptionPlan converts raw input into a SubscriptionPlan.
func ParseSubscriptionPlan(value string) (SubscriptionPlan, error) {
	for _, candidate := range validSubscriptionPlans {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription plan %q", value)
}
