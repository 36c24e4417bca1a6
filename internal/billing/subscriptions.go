package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ifarma/backoffice-backend/internal/payments"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
)

const activationStateTTL = time.Hour

// MigratePlanInput moves a merchant onto a plan.
type MigratePlanInput struct {
	MerchantID uuid.UUID `json:"merchant_id" validate:"required"`
	PlanID     uuid.UUID `json:"plan_id" validate:"required"`
	Name       string    `json:"name" validate:"required"`
	Email      string    `json:"email"`
	TaxID      string    `json:"tax_id"`
}

// MigrationOutcome reports how the migration landed: either the subscription
// activated on the spot, or a payment is in flight.
type MigrationOutcome struct {
	Subscription *models.Subscription `json:"subscription"`
	Activated    bool                 `json:"activated"`
	PaymentID    string               `json:"payment_id,omitempty"`
	Voucher      *payments.Voucher    `json:"voucher,omitempty"`
	CheckoutURL  string               `json:"checkout_url,omitempty"`
}

// ActivationState is the cached progress of a pending activation payment.
type ActivationState struct {
	Status      enums.VoucherStatus `json:"status"`
	PaymentID   string              `json:"payment_id,omitempty"`
	Voucher     *payments.Voucher   `json:"voucher,omitempty"`
	CheckoutURL string              `json:"checkout_url,omitempty"`
}

// MigratePlan puts the merchant on the plan. With a zero effective fee the
// subscription activates immediately; otherwise it parks in pending_payment
// while the gateway payment settles. One activation per merchant at a time.
func (s *Service) MigratePlan(ctx context.Context, input MigratePlanInput) (*MigrationOutcome, error) {
	if input.MerchantID == uuid.Nil || input.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id and plan id are required")
	}
	ctx = s.log.WithMerchantID(ctx, input.MerchantID.String())

	guardKey := s.guard.ActivationGuardKey(input.MerchantID.String())
	acquired, err := s.guard.SetNX(ctx, guardKey, "1", s.cfg.ActivationGuardTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire activation guard")
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a plan activation is already in progress for this merchant")
	}
	defer func() {
		if err := s.guard.Del(context.WithoutCancel(ctx), guardKey); err != nil {
			s.log.Warn(ctx, fmt.Sprintf("release activation guard: %v", err))
		}
	}()

	plan, err := s.repo.FindPlanByID(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "billing plan not found")
	}
	if !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing plan is no longer offered")
	}

	contract, err := s.repo.FindContractByMerchant(ctx, input.MerchantID, s.now())
	if err != nil {
		return nil, err
	}
	terms := ResolveTerms(*plan, contract)

	if terms.MonthlyFeeCents == 0 {
		return s.activateNow(ctx, input.MerchantID, plan)
	}
	return s.startPaidActivation(ctx, input, plan, terms)
}

func (s *Service) activateNow(ctx context.Context, merchantID uuid.UUID, plan *models.BillingPlan) (*MigrationOutcome, error) {
	now := s.now()
	nextBilling := periodEnd(now, plan.Interval)

	if err := s.repo.UpsertSubscriptionByMerchant(ctx, &models.Subscription{
		MerchantID:      merchantID,
		PlanID:          plan.ID,
		Status:          enums.SubscriptionStatusActive,
		StartedAt:       &now,
		NextBillingDate: &nextBilling,
	}); err != nil {
		return nil, err
	}

	sub, err := s.repo.FindSubscriptionByMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription vanished after upsert")
	}
	if _, err := s.EnsureCycle(ctx, sub, now); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "subscription activated without payment")
	return &MigrationOutcome{Subscription: sub, Activated: true}, nil
}

func (s *Service) startPaidActivation(ctx context.Context, input MigratePlanInput, plan *models.BillingPlan, terms EffectiveTerms) (*MigrationOutcome, error) {
	if err := s.repo.UpsertSubscriptionByMerchant(ctx, &models.Subscription{
		MerchantID: input.MerchantID,
		PlanID:     plan.ID,
		Status:     enums.SubscriptionStatusPendingPayment,
	}); err != nil {
		return nil, err
	}
	sub, err := s.repo.FindSubscriptionByMerchant(ctx, input.MerchantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription vanished after upsert")
	}

	activation, err := s.workflow.Activate(ctx, payments.ActivationRequest{
		Profile: payments.CustomerProfile{
			MerchantID: input.MerchantID,
			Name:       input.Name,
			Email:      input.Email,
			TaxID:      input.TaxID,
		},
		AmountCents: terms.MonthlyFeeCents,
		Description: fmt.Sprintf("iFarma plan %s", plan.Slug),
		Reference:   sub.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	outcome := &MigrationOutcome{Subscription: sub}
	var paymentID string
	switch result := activation.Result.(type) {
	case payments.Synchronous:
		// A paid plan never resolves synchronously; treat it as activated.
		return s.activateNow(ctx, input.MerchantID, plan)
	case payments.VoucherReady:
		paymentID = result.Voucher.PaymentID
		outcome.PaymentID = paymentID
		outcome.Voucher = &result.Voucher
		s.cacheActivationState(ctx, input.MerchantID, ActivationState{
			Status:    enums.VoucherStatusReady,
			PaymentID: paymentID,
			Voucher:   &result.Voucher,
		})
	case payments.VoucherPending:
		paymentID = result.PaymentID
		outcome.PaymentID = paymentID
		outcome.CheckoutURL = result.CheckoutURL
		s.cacheActivationState(ctx, input.MerchantID, ActivationState{
			Status:      enums.VoucherStatusPendingQR,
			PaymentID:   paymentID,
			CheckoutURL: result.CheckoutURL,
		})
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "unknown activation result")
	}

	sub.GatewayCustomerID = &activation.CustomerID
	sub.GatewayPaymentID = &paymentID
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	invoice := &models.Invoice{
		MerchantID:       input.MerchantID,
		InvoiceType:      enums.InvoiceTypeMonthlyFee,
		Status:           enums.InvoiceStatusPending,
		AmountCents:      terms.MonthlyFeeCents,
		DueDate:          s.now().AddDate(0, 0, s.cfg.InvoiceDueDays),
		GatewayPaymentID: &paymentID,
	}
	if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
		return nil, err
	}

	if _, pending := activation.Result.(payments.VoucherPending); pending {
		checkoutURL := outcome.CheckoutURL
		s.workflow.StartPoll(input.MerchantID, paymentID, checkoutURL, s.handlePollOutcome)
	}

	s.log.Info(ctx, "plan activation payment created")
	return outcome, nil
}

// handlePollOutcome runs when a background voucher poll finishes.
func (s *Service) handlePollOutcome(ctx context.Context, outcome payments.PollOutcome) {
	ctx = s.log.WithMerchantID(ctx, outcome.MerchantID.String())

	switch outcome.Status {
	case enums.VoucherStatusPaid:
		if err := s.HandlePaymentConfirmed(ctx, outcome.PaymentID); err != nil {
			s.log.Error(ctx, "activate subscription after voucher payment", err)
		}
	case enums.VoucherStatusReady:
		s.cacheActivationState(ctx, outcome.MerchantID, ActivationState{
			Status:    enums.VoucherStatusReady,
			PaymentID: outcome.PaymentID,
			Voucher:   outcome.Voucher,
		})
		s.log.Info(ctx, "activation voucher ready")
	case enums.VoucherStatusFailed:
		// The subscription stays pending_payment; the checkout URL is the
		// merchant's way out.
		s.cacheActivationState(ctx, outcome.MerchantID, ActivationState{
			Status:      enums.VoucherStatusFailed,
			PaymentID:   outcome.PaymentID,
			CheckoutURL: outcome.CheckoutURL,
		})
		if outcome.Err != nil {
			s.log.Error(ctx, fmt.Sprintf("voucher polling failed after %d attempt(s)", outcome.Attempts), outcome.Err)
		}
	}
}

// ActivationStatus reports where a pending activation stands.
func (s *Service) ActivationStatus(ctx context.Context, merchantID uuid.UUID) (*ActivationState, error) {
	sub, err := s.repo.FindSubscriptionByMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "merchant has no subscription")
	}
	if sub.Status != enums.SubscriptionStatusPendingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no activation payment in progress").
			WithDetails(map[string]any{"status": sub.Status})
	}

	raw, err := s.guard.Get(ctx, s.guard.ActivationVoucherKey(merchantID.String()))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			state := &ActivationState{Status: enums.VoucherStatusRequested}
			if sub.GatewayPaymentID != nil {
				state.PaymentID = *sub.GatewayPaymentID
			}
			return state, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read activation state")
	}

	var state ActivationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode activation state")
	}
	return &state, nil
}

// HandlePaymentConfirmed settles the invoice behind a gateway payment and, for
// activation payments, flips the subscription to active and opens its first
// cycle. Safe to call more than once per payment.
func (s *Service) HandlePaymentConfirmed(ctx context.Context, gatewayPaymentID string) error {
	if gatewayPaymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id is required")
	}

	invoice, err := s.repo.FindInvoiceByGatewayPaymentID(ctx, gatewayPaymentID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no invoice for gateway payment").
			WithDetails(map[string]any{"gateway_payment_id": gatewayPaymentID})
	}
	ctx = s.log.WithMerchantID(ctx, invoice.MerchantID.String())

	paidAt := s.now()
	settled, err := s.repo.UpdateInvoiceStatusIf(ctx, invoice.ID,
		[]enums.InvoiceStatus{enums.InvoiceStatusPending, enums.InvoiceStatusOverdue},
		map[string]any{"status": enums.InvoiceStatusPaid, "paid_at": paidAt})
	if err != nil {
		return err
	}
	if !settled {
		s.log.Info(ctx, "payment confirmation replayed; invoice already settled")
	}

	sub, err := s.repo.FindSubscriptionByMerchant(ctx, invoice.MerchantID)
	if err != nil {
		return err
	}
	if sub == nil || sub.Plan == nil {
		return nil
	}

	nextBilling := periodEnd(paidAt, sub.Plan.Interval)
	activated, err := s.repo.UpdateSubscriptionStatusIf(ctx, sub.ID,
		[]enums.SubscriptionStatus{enums.SubscriptionStatusPendingPayment, enums.SubscriptionStatusTrialing},
		map[string]any{
			"status":            enums.SubscriptionStatusActive,
			"started_at":        paidAt,
			"next_billing_date": nextBilling,
		})
	if err != nil {
		return err
	}
	if !activated {
		return nil
	}

	sub.Status = enums.SubscriptionStatusActive
	if _, err := s.EnsureCycle(ctx, sub, paidAt); err != nil {
		return err
	}

	voucherKey := s.guard.ActivationVoucherKey(invoice.MerchantID.String())
	if err := s.guard.Del(ctx, voucherKey); err != nil {
		s.log.Warn(ctx, fmt.Sprintf("clear activation state: %v", err))
	}

	s.log.Info(ctx, "subscription activated by gateway payment")
	return nil
}

// CancelSubscription ends the merchant's subscription and finalizes the
// running cycle. Canceling twice is a state conflict.
func (s *Service) CancelSubscription(ctx context.Context, merchantID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "merchant has no subscription")
	}
	ctx = s.log.WithMerchantID(ctx, merchantID.String())

	canceledAt := s.now()
	canceled, err := s.repo.UpdateSubscriptionStatusIf(ctx, sub.ID,
		[]enums.SubscriptionStatus{
			enums.SubscriptionStatusTrialing,
			enums.SubscriptionStatusActive,
			enums.SubscriptionStatusPendingPayment,
		},
		map[string]any{"status": enums.SubscriptionStatusCanceled, "canceled_at": canceledAt})
	if err != nil {
		return nil, err
	}
	if !canceled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is already canceled")
	}
	sub.Status = enums.SubscriptionStatusCanceled
	sub.CanceledAt = &canceledAt

	cycle, err := s.repo.FindActiveCycle(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if cycle != nil {
		// The subscription is no longer active, so rollover closes the cycle
		// and bills it without opening a successor.
		if err := s.RolloverCycle(ctx, *cycle); err != nil {
			return nil, err
		}
	}

	s.log.Info(ctx, "subscription canceled")
	return sub, nil
}

// GetSubscription fetches the merchant's subscription with its plan.
func (s *Service) GetSubscription(ctx context.Context, merchantID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "merchant has no subscription")
	}
	return sub, nil
}

func (s *Service) cacheActivationState(ctx context.Context, merchantID uuid.UUID, state ActivationState) {
	payload, err := json.Marshal(state)
	if err != nil {
		s.log.Warn(ctx, fmt.Sprintf("encode activation state: %v", err))
		return
	}
	key := s.guard.ActivationVoucherKey(merchantID.String())
	if err := s.guard.Set(ctx, key, string(payload), activationStateTTL); err != nil {
		s.log.Warn(ctx, fmt.Sprintf("cache activation state: %v", err))
	}
}
