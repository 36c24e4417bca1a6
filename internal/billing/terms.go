package billing

import (
	"github.com/ifarma/backoffice-backend/pkg/db/models"
)

// EffectiveTerms is the fully resolved pricing for one billing operation.
// Resolution is contract-first per field; resolved terms are never stored.
type EffectiveTerms struct {
	MonthlyFeeCents      int64 `json:"monthly_fee_cents"`
	FreeOrdersPerPeriod  int   `json:"free_orders_per_period"`
	OveragePercentBP     int   `json:"overage_percent_bp"`
	OverageFixedFeeCents int64 `json:"overage_fixed_fee_cents"`
	BlockAfterFreeLimit  bool  `json:"block_after_free_limit"`
}

// ResolveTerms merges a merchant contract over the plan defaults. A nil
// contract (or nil override field) falls through to the plan value, including
// explicit zero overrides such as a negotiated quota of 0.
func ResolveTerms(plan models.BillingPlan, contract *models.MerchantContract) EffectiveTerms {
	terms := EffectiveTerms{
		MonthlyFeeCents:      plan.MonthlyFeeCents,
		FreeOrdersPerPeriod:  plan.FreeOrdersPerPeriod,
		OveragePercentBP:     plan.OveragePercentBP,
		OverageFixedFeeCents: plan.OverageFixedFeeCents,
		BlockAfterFreeLimit:  plan.BlockAfterFreeLimit,
	}
	if contract == nil {
		return terms
	}
	if contract.OverrideMonthlyFeeCents != nil {
		terms.MonthlyFeeCents = *contract.OverrideMonthlyFeeCents
	}
	if contract.OverrideFreeOrdersPerPeriod != nil {
		terms.FreeOrdersPerPeriod = *contract.OverrideFreeOrdersPerPeriod
	}
	if contract.OverrideOveragePercentBP != nil {
		terms.OveragePercentBP = *contract.OverrideOveragePercentBP
	}
	if contract.OverrideOverageFixedFeeCents != nil {
		terms.OverageFixedFeeCents = *contract.OverrideOverageFixedFeeCents
	}
	if contract.OverrideBlockAfterFreeLimit != nil {
		terms.BlockAfterFreeLimit = *contract.OverrideBlockAfterFreeLimit
	}
	return terms
}
