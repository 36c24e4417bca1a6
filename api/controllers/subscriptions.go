package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/api/middleware"
	"github.com/ifarma/backoffice-backend/api/responses"
	"github.com/ifarma/backoffice-backend/api/validators"
	"github.com/ifarma/backoffice-backend/internal/billing"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

// SubscriptionsService is the slice of the billing service the merchant
// subscription handlers use.
type SubscriptionsService interface {
	MigratePlan(ctx context.Context, input billing.MigratePlanInput) (*billing.MigrationOutcome, error)
	GetSubscription(ctx context.Context, merchantID uuid.UUID) (*models.Subscription, error)
	ActivationStatus(ctx context.Context, merchantID uuid.UUID) (*billing.ActivationState, error)
	CancelSubscription(ctx context.Context, merchantID uuid.UUID) (*models.Subscription, error)
	GetEffectiveTerms(ctx context.Context, merchantID uuid.UUID) (*billing.EffectiveTerms, error)
	CurrentUsage(ctx context.Context, merchantID uuid.UUID) (*billing.UsageSnapshot, error)
}

type migratePlanBody struct {
	PlanID uuid.UUID `json:"plan_id" validate:"required"`
	Name   string    `json:"name" validate:"required"`
	Email  string    `json:"email"`
	TaxID  string    `json:"tax_id"`
}

func merchantFromContext(r *http.Request) (uuid.UUID, error) {
	raw := middleware.MerchantIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "merchant context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid merchant id")
	}
	return id, nil
}

// MerchantMigratePlan puts the calling merchant on a plan, kicking off a
// gateway payment when the effective fee is non-zero.
func MerchantMigratePlan(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := merchantFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body migratePlanBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := svc.MigratePlan(r.Context(), billing.MigratePlanInput{
			MerchantID: merchantID,
			PlanID:     body.PlanID,
			Name:       validators.SanitizeString(body.Name, 120),
			Email:      body.Email,
			TaxID:      body.TaxID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if !outcome.Activated {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, outcome)
	}
}

// MerchantSubscription returns the caller's subscription with its plan.
func MerchantSubscription(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := merchantFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.GetSubscription(r.Context(), merchantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// MerchantActivationStatus reports where the pending activation payment stands.
func MerchantActivationStatus(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := merchantFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		state, err := svc.ActivationStatus(r.Context(), merchantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, state)
	}
}

// MerchantCancelSubscription cancels the caller's subscription and bills the
// current cycle immediately.
func MerchantCancelSubscription(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := merchantFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.CancelSubscription(r.Context(), merchantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// MerchantEffectiveTerms returns the plan terms after contract overrides.
func MerchantEffectiveTerms(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := merchantFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		terms, err := svc.GetEffectiveTerms(r.Context(), merchantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, terms)
	}
}

// MerchantUsage returns the live counters of the current billing cycle.
func MerchantUsage(svc SubscriptionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := merchantFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		usage, err := svc.CurrentUsage(r.Context(), merchantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, usage)
	}
}
