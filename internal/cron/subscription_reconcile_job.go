package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/ifarma/backoffice-backend/internal/payments"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

const defaultReconcileLimit = 250

// SubscriptionReconcileJobParams configures the pending activation sweep.
type SubscriptionReconcileJobParams struct {
	Logger  *logger.Logger
	Repo    pendingSubscriptionLister
	Gateway voucherPoller
	Billing paymentConfirmer
	Limit   int
}

type pendingSubscriptionLister interface {
	ListSubscriptionsByStatus(ctx context.Context, status enums.SubscriptionStatus, limit int) ([]models.Subscription, error)
}

type voucherPoller interface {
	PollVoucher(ctx context.Context, paymentID string) (payments.PollStatus, *payments.Voucher, error)
}

type paymentConfirmer interface {
	HandlePaymentConfirmed(ctx context.Context, gatewayPaymentID string) error
}

// NewSubscriptionReconcileJob builds the job that catches activation payments
// whose confirmation webhook never arrived.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:    params.Logger,
		repo:    params.Repo,
		gateway: params.Gateway,
		billing: params.Billing,
		limit:   limit,
	}, nil
}

type subscriptionReconcileJob struct {
	logg    *logger.Logger
	repo    pendingSubscriptionLister
	gateway voucherPoller
	billing paymentConfirmer
	limit   int
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	subs, err := j.repo.ListSubscriptionsByStatus(ctx, enums.SubscriptionStatusPendingPayment, j.limit)
	if err != nil {
		return fmt.Errorf("list pending subscriptions: %w", err)
	}

	var errs error
	confirmed := 0
	for i := range subs {
		settled, err := j.reconcileSubscription(ctx, &subs[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if settled {
			confirmed++
		}
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(subs),
		"confirmed":  confirmed,
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcileSubscription(ctx context.Context, sub *models.Subscription) (bool, error) {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscription_id": sub.ID,
		"merchant_id":     sub.MerchantID,
	})
	if sub.GatewayPaymentID == nil || *sub.GatewayPaymentID == "" {
		j.logg.Info(logCtx, "pending subscription has no gateway payment; skipping")
		return false, nil
	}
	status, _, err := j.gateway.PollVoucher(logCtx, *sub.GatewayPaymentID)
	if err != nil {
		j.logg.Error(logCtx, "gateway poll failed", err)
		return false, err
	}
	if status != payments.PollStatusPaid {
		return false, nil
	}
	if err := j.billing.HandlePaymentConfirmed(logCtx, *sub.GatewayPaymentID); err != nil {
		return false, fmt.Errorf("confirm payment %s: %w", *sub.GatewayPaymentID, err)
	}
	j.logg.Info(logCtx, "pending activation reconciled as paid")
	return true, nil
}
