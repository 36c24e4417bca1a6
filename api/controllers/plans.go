package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/api/responses"
	"github.com/ifarma/backoffice-backend/api/validators"
	"github.com/ifarma/backoffice-backend/internal/billing"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

// PlansService is the slice of the billing service the plan catalog handlers use.
type PlansService interface {
	CreatePlan(ctx context.Context, input billing.CreatePlanInput) (*models.BillingPlan, error)
	UpdatePlan(ctx context.Context, id uuid.UUID, input billing.UpdatePlanInput) (*models.BillingPlan, error)
	ListPlans(ctx context.Context, onlyActive bool) ([]models.BillingPlan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*models.BillingPlan, error)
}

// PublicListPlans returns the active catalog for signup pages.
func PublicListPlans(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := svc.ListPlans(r.Context(), true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"plans": plans})
	}
}

// AdminListPlans returns the whole catalog, retired plans included.
func AdminListPlans(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := svc.ListPlans(r.Context(), false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"plans": plans})
	}
}

func AdminGetPlan(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "planId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := svc.GetPlan(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}

func AdminCreatePlan(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input billing.CreatePlanInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := svc.CreatePlan(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, plan)
	}
}

func AdminUpdatePlan(svc PlansService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "planId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var input billing.UpdatePlanInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan, err := svc.UpdatePlan(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := chi.URLParam(r, key)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid identifier").
			WithDetails(map[string]any{"field": key})
	}
	return id, nil
}
