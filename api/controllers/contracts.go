package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/api/responses"
	"github.com/ifarma/backoffice-backend/api/validators"
	"github.com/ifarma/backoffice-backend/internal/billing"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

// ContractsService is the slice of the billing service the contract handlers use.
type ContractsService interface {
	UpsertContract(ctx context.Context, input billing.UpsertContractInput) (*models.MerchantContract, error)
	GetContract(ctx context.Context, merchantID uuid.UUID) (*models.MerchantContract, error)
}

type upsertContractBody struct {
	OverrideMonthlyFeeCents     *int64     `json:"override_monthly_fee_cents"`
	OverrideFreeOrdersPerPeriod *int       `json:"override_free_orders_per_period"`
	OverrideOveragePercentBP    *int       `json:"override_overage_percent_bp"`
	OverrideOverageFixedFee     *int64     `json:"override_overage_fixed_fee_cents"`
	OverrideBlockAfterFreeLimit *bool      `json:"override_block_after_free_limit"`
	Notes                       string     `json:"notes"`
	ValidFrom                   *time.Time `json:"valid_from"`
	ValidUntil                  *time.Time `json:"valid_until"`
}

// AdminUpsertContract writes the merchant's negotiated terms.
func AdminUpsertContract(svc ContractsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := pathUUID(r, "merchantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body upsertContractBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		contract, err := svc.UpsertContract(r.Context(), billing.UpsertContractInput{
			MerchantID:                  merchantID,
			OverrideMonthlyFeeCents:     body.OverrideMonthlyFeeCents,
			OverrideFreeOrdersPerPeriod: body.OverrideFreeOrdersPerPeriod,
			OverrideOveragePercentBP:    body.OverrideOveragePercentBP,
			OverrideOverageFixedFee:     body.OverrideOverageFixedFee,
			OverrideBlockAfterFreeLimit: body.OverrideBlockAfterFreeLimit,
			Notes:                       validators.SanitizeString(body.Notes, 500),
			ValidFrom:                   body.ValidFrom,
			ValidUntil:                  body.ValidUntil,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, contract)
	}
}

// AdminGetContract returns the merchant's contract currently in force.
func AdminGetContract(svc ContractsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := pathUUID(r, "merchantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		contract, err := svc.GetContract(r.Context(), merchantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if contract == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "merchant has no contract in force"))
			return
		}
		responses.WriteSuccess(w, contract)
	}
}
