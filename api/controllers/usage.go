package controllers

import (
	"context"
	"net/http"

	"github.com/ifarma/backoffice-backend/api/responses"
	"github.com/ifarma/backoffice-backend/api/validators"
	"github.com/ifarma/backoffice-backend/internal/billing"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

// UsageService meters delivered orders against the merchant's cycle.
type UsageService interface {
	RecordOrder(ctx context.Context, input billing.RecordOrderInput) (*billing.UsageSnapshot, error)
}

// RecordOrderUsage is called by the order pipeline when a delivery completes.
// Replays of the same order id are harmless.
func RecordOrderUsage(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input billing.RecordOrderInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snapshot, err := svc.RecordOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}
