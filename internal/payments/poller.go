package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/pkg/enums"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

// PollerParams configure a voucher poller.
type PollerParams struct {
	Gateway     Gateway
	Credentials CredentialSource
	Logger      *logger.Logger
	Interval    time.Duration
	MaxAttempts int
}

// Poller watches a payment voucher at a fixed interval until it settles, the
// attempt budget runs out, or the credential stops working.
type Poller struct {
	gateway     Gateway
	creds       CredentialSource
	log         *logger.Logger
	interval    time.Duration
	maxAttempts int
}

// NewPoller wires a poller from its params.
func NewPoller(params PollerParams) (*Poller, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("payments poller requires a gateway")
	}
	if params.Credentials == nil {
		return nil, fmt.Errorf("payments poller requires a credential source")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("payments poller requires a logger")
	}
	if params.Interval <= 0 {
		return nil, fmt.Errorf("payments poller interval must be positive")
	}
	if params.MaxAttempts <= 0 {
		return nil, fmt.Errorf("payments poller max attempts must be positive")
	}

	return &Poller{
		gateway:     params.Gateway,
		creds:       params.Credentials,
		log:         params.Logger,
		interval:    params.Interval,
		maxAttempts: params.MaxAttempts,
	}, nil
}

// Run polls until the voucher is paid or ready, the credential expires, the
// attempt budget is exhausted, or ctx is canceled. The credential is revalidated
// before every attempt so an expired session surfaces as an auth failure rather
// than a timeout. A canceled run carries ctx's error and no voucher status.
func (p *Poller) Run(ctx context.Context, merchantID uuid.UUID, paymentID, checkoutURL string) PollOutcome {
	ctx = p.log.WithMerchantID(ctx, merchantID.String())
	ctx = p.log.WithField(ctx, "payment_id", paymentID)

	outcome := PollOutcome{
		MerchantID:  merchantID,
		PaymentID:   paymentID,
		CheckoutURL: checkoutURL,
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				outcome.Err = ctx.Err()
				return outcome
			case <-ticker.C:
			}
		}
		outcome.Attempts = attempt

		if _, err := p.creds.Fresh(ctx); err != nil {
			p.log.Error(ctx, "voucher polling aborted: gateway credential expired", err)
			outcome.Status = enums.VoucherStatusFailed
			outcome.Err = pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "gateway credential expired during voucher polling")
			return outcome
		}

		status, voucher, err := p.gateway.PollVoucher(ctx, paymentID)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeUnauthorized {
				p.log.Error(ctx, "voucher polling aborted: gateway rejected credential", err)
				outcome.Status = enums.VoucherStatusFailed
				outcome.Err = err
				return outcome
			}
			// Transient gateway failures burn the attempt but do not end the run.
			p.log.Warn(ctx, fmt.Sprintf("voucher poll attempt %d failed: %v", attempt, err))
			continue
		}

		switch status {
		case PollStatusPaid:
			outcome.Status = enums.VoucherStatusPaid
			return outcome
		case PollStatusReady:
			outcome.Status = enums.VoucherStatusReady
			outcome.Voucher = voucher
			return outcome
		case PollStatusPending:
			// Keep waiting.
		}
	}

	p.log.Warn(ctx, fmt.Sprintf("voucher not settled after %d attempts", p.maxAttempts))
	outcome.Status = enums.VoucherStatusFailed
	outcome.Err = pkgerrors.New(pkgerrors.CodeTimeout, "voucher payment polling timed out").
		WithDetails(map[string]any{
			"payment_id":   paymentID,
			"attempts":     p.maxAttempts,
			"checkout_url": checkoutURL,
		})
	return outcome
}
