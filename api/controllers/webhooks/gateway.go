package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ifarma/backoffice-backend/api/responses"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

const accessTokenHeader = "asaas-access-token"

// PaymentConfirmer settles the invoice and activates the subscription tied to
// a gateway payment.
type PaymentConfirmer interface {
	HandlePaymentConfirmed(ctx context.Context, gatewayPaymentID string) error
}

type gatewayEvent struct {
	Event   string `json:"event"`
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

var confirmingEvents = map[string]bool{
	"PAYMENT_RECEIVED":  true,
	"PAYMENT_CONFIRMED": true,
}

// GatewayWebhook ingests payment notifications from the PIX gateway. The
// gateway retries on non-2xx, so events we cannot act on are acknowledged
// and only logged.
func GatewayWebhook(svc PaymentConfirmer, webhookToken string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if webhookToken != "" && r.Header.Get(accessTokenHeader) != webhookToken {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook token"))
			return
		}

		var event gatewayEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"event":      event.Event,
				"payment_id": event.Payment.ID,
			})
		}

		if !confirmingEvents[strings.ToUpper(event.Event)] || event.Payment.ID == "" {
			if logg != nil {
				logg.Info(ctx, "gateway event ignored")
			}
			responses.WriteSuccess(w, map[string]string{"status": "ignored"})
			return
		}

		if err := svc.HandlePaymentConfirmed(ctx, event.Payment.ID); err != nil {
			typed := pkgerrors.As(err)
			if typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				// A payment we never issued; ack so the gateway stops retrying.
				if logg != nil {
					logg.Warn(ctx, "gateway payment unknown")
				}
				responses.WriteSuccess(w, map[string]string{"status": "ignored"})
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "processed"})
	}
}
