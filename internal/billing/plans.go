package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ifarma/backoffice-backend/pkg/db"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
)

const maxOveragePercentBP = 10000

// CreatePlanInput carries a new catalog entry.
type CreatePlanInput struct {
	Name                 string                `json:"name" validate:"required"`
	Slug                 string                `json:"slug" validate:"required"`
	Interval             enums.BillingInterval `json:"interval" validate:"required"`
	MonthlyFeeCents      int64                 `json:"monthly_fee_cents"`
	FreeOrdersPerPeriod  int                   `json:"free_orders_per_period"`
	OveragePercentBP     int                   `json:"overage_percent_bp"`
	OverageFixedFeeCents int64                 `json:"overage_fixed_fee_cents"`
	BlockAfterFreeLimit  bool                  `json:"block_after_free_limit"`
	Features             []string              `json:"features"`
}

// UpdatePlanInput patches an existing plan; nil fields are left untouched.
type UpdatePlanInput struct {
	Name                 *string  `json:"name"`
	MonthlyFeeCents      *int64   `json:"monthly_fee_cents"`
	FreeOrdersPerPeriod  *int     `json:"free_orders_per_period"`
	OveragePercentBP     *int     `json:"overage_percent_bp"`
	OverageFixedFeeCents *int64   `json:"overage_fixed_fee_cents"`
	BlockAfterFreeLimit  *bool    `json:"block_after_free_limit"`
	IsActive             *bool    `json:"is_active"`
	Features             []string `json:"features"`
}

// UpsertContractInput carries negotiated per-merchant overrides.
type UpsertContractInput struct {
	MerchantID                  uuid.UUID  `json:"merchant_id" validate:"required"`
	OverrideMonthlyFeeCents     *int64     `json:"override_monthly_fee_cents"`
	OverrideFreeOrdersPerPeriod *int       `json:"override_free_orders_per_period"`
	OverrideOveragePercentBP    *int       `json:"override_overage_percent_bp"`
	OverrideOverageFixedFee     *int64     `json:"override_overage_fixed_fee_cents"`
	OverrideBlockAfterFreeLimit *bool      `json:"override_block_after_free_limit"`
	Notes                       string     `json:"notes"`
	ValidFrom                   *time.Time `json:"valid_from"`
	ValidUntil                  *time.Time `json:"valid_until"`
}

// CreatePlan adds a plan to the catalog.
func (s *Service) CreatePlan(ctx context.Context, input CreatePlanInput) (*models.BillingPlan, error) {
	if err := validatePlanPricing(input.MonthlyFeeCents, input.FreeOrdersPerPeriod, input.OveragePercentBP, input.OverageFixedFeeCents); err != nil {
		return nil, err
	}
	if !input.Interval.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing interval").
			WithDetails(map[string]any{"interval": input.Interval})
	}
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if slug == "" || strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name and slug are required")
	}

	plan := &models.BillingPlan{
		Name:                 strings.TrimSpace(input.Name),
		Slug:                 slug,
		Interval:             input.Interval,
		MonthlyFeeCents:      input.MonthlyFeeCents,
		FreeOrdersPerPeriod:  input.FreeOrdersPerPeriod,
		OveragePercentBP:     input.OveragePercentBP,
		OverageFixedFeeCents: input.OverageFixedFeeCents,
		BlockAfterFreeLimit:  input.BlockAfterFreeLimit,
		IsActive:             true,
		Features:             pq.StringArray(input.Features),
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a plan with this slug already exists").
				WithDetails(map[string]any{"slug": slug})
		}
		return nil, err
	}
	return plan, nil
}

// UpdatePlan patches a catalog entry. Slug and interval are immutable; a
// deactivated plan keeps billing its existing subscribers.
func (s *Service) UpdatePlan(ctx context.Context, id uuid.UUID, input UpdatePlanInput) (*models.BillingPlan, error) {
	plan, err := s.repo.FindPlanByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found")
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name cannot be empty")
		}
		plan.Name = strings.TrimSpace(*input.Name)
	}
	if input.MonthlyFeeCents != nil {
		plan.MonthlyFeeCents = *input.MonthlyFeeCents
	}
	if input.FreeOrdersPerPeriod != nil {
		plan.FreeOrdersPerPeriod = *input.FreeOrdersPerPeriod
	}
	if input.OveragePercentBP != nil {
		plan.OveragePercentBP = *input.OveragePercentBP
	}
	if input.OverageFixedFeeCents != nil {
		plan.OverageFixedFeeCents = *input.OverageFixedFeeCents
	}
	if input.BlockAfterFreeLimit != nil {
		plan.BlockAfterFreeLimit = *input.BlockAfterFreeLimit
	}
	if input.IsActive != nil {
		plan.IsActive = *input.IsActive
	}
	if input.Features != nil {
		plan.Features = pq.StringArray(input.Features)
	}
	if err := validatePlanPricing(plan.MonthlyFeeCents, plan.FreeOrdersPerPeriod, plan.OveragePercentBP, plan.OverageFixedFeeCents); err != nil {
		return nil, err
	}

	if err := s.repo.UpdatePlan(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListPlans returns catalog entries, optionally only the active ones.
func (s *Service) ListPlans(ctx context.Context, onlyActive bool) ([]models.BillingPlan, error) {
	query := ListPlansQuery{}
	if onlyActive {
		active := true
		query.IsActive = &active
	}
	return s.repo.ListPlans(ctx, query)
}

// GetPlan fetches one catalog entry.
func (s *Service) GetPlan(ctx context.Context, id uuid.UUID) (*models.BillingPlan, error) {
	plan, err := s.repo.FindPlanByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found")
	}
	return plan, nil
}

// UpsertContract creates or replaces the merchant's negotiated overrides.
func (s *Service) UpsertContract(ctx context.Context, input UpsertContractInput) (*models.MerchantContract, error) {
	if input.MerchantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	if input.OverrideOveragePercentBP != nil {
		if bp := *input.OverrideOveragePercentBP; bp < 0 || bp > maxOveragePercentBP {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "overage percent must be between 0 and 10000 basis points")
		}
	}
	if input.OverrideMonthlyFeeCents != nil && *input.OverrideMonthlyFeeCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "monthly fee cannot be negative")
	}
	if input.OverrideFreeOrdersPerPeriod != nil && *input.OverrideFreeOrdersPerPeriod < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "free order quota cannot be negative")
	}
	if input.OverrideOverageFixedFee != nil && *input.OverrideOverageFixedFee < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "overage fixed fee cannot be negative")
	}

	validFrom := s.now()
	if input.ValidFrom != nil {
		validFrom = *input.ValidFrom
	}
	if input.ValidUntil != nil && !input.ValidUntil.After(validFrom) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "contract must expire after it starts")
	}

	contract := &models.MerchantContract{
		MerchantID:                   input.MerchantID,
		OverrideMonthlyFeeCents:      input.OverrideMonthlyFeeCents,
		OverrideFreeOrdersPerPeriod:  input.OverrideFreeOrdersPerPeriod,
		OverrideOveragePercentBP:     input.OverrideOveragePercentBP,
		OverrideOverageFixedFeeCents: input.OverrideOverageFixedFee,
		OverrideBlockAfterFreeLimit:  input.OverrideBlockAfterFreeLimit,
		ValidFrom:                    validFrom,
		ValidUntil:                   input.ValidUntil,
	}
	if notes := strings.TrimSpace(input.Notes); notes != "" {
		contract.Notes = &notes
	}
	if err := s.repo.UpsertContract(ctx, contract); err != nil {
		return nil, err
	}
	return contract, nil
}

// GetContract returns the contract in force for the merchant, nil when the
// merchant is on plain plan terms.
func (s *Service) GetContract(ctx context.Context, merchantID uuid.UUID) (*models.MerchantContract, error) {
	if merchantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	return s.repo.FindContractByMerchant(ctx, merchantID, s.now())
}

func validatePlanPricing(feeCents int64, freeOrders, percentBP int, fixedFeeCents int64) error {
	if feeCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "monthly fee cannot be negative")
	}
	if freeOrders < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "free order quota cannot be negative")
	}
	if percentBP < 0 || percentBP > maxOveragePercentBP {
		return pkgerrors.New(pkgerrors.CodeValidation, "overage percent must be between 0 and 10000 basis points")
	}
	if fixedFeeCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "overage fixed fee cannot be negative")
	}
	return nil
}
