package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ifarma/backoffice-backend/internal/payments"
	"github.com/ifarma/backoffice-backend/pkg/db"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
)

// RecordOrderInput meters one delivered order against the merchant's cycle.
type RecordOrderInput struct {
	MerchantID uuid.UUID `json:"merchant_id" validate:"required"`
	OrderID    uuid.UUID `json:"order_id" validate:"required"`
	TotalCents int64     `json:"total_cents"`
}

// UsageSnapshot is the merchant-facing view of the current cycle.
type UsageSnapshot struct {
	CycleID             uuid.UUID `json:"cycle_id"`
	PeriodStart         time.Time `json:"period_start"`
	PeriodEnd           time.Time `json:"period_end"`
	FreeOrdersPerPeriod int       `json:"free_orders_per_period"`
	FreeOrdersUsed      int       `json:"free_orders_used"`
	FreeOrdersRemaining int       `json:"free_orders_remaining"`
	OverageOrders       int       `json:"overage_orders"`
	OverageAmountCents  int64     `json:"overage_amount_cents"`
	ApproachingLimit    bool      `json:"approaching_limit"`
	LimitReached        bool      `json:"limit_reached"`
	OrderingBlocked     bool      `json:"ordering_blocked"`
}

// RecordOrder meters a delivered order: the cycle's usage is recomputed from
// its full order list under the terms in force right now, so contract changes
// mid-cycle reprice earlier overage too. Replaying an order id is a no-op.
func (s *Service) RecordOrder(ctx context.Context, input RecordOrderInput) (*UsageSnapshot, error) {
	if input.MerchantID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id and order id are required")
	}
	if input.TotalCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be a non-negative amount")
	}

	sub, terms, err := s.subscriptionTerms(ctx, input.MerchantID)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not accepting orders").
			WithDetails(map[string]any{"status": sub.Status})
	}

	var (
		cycle       *models.BillingCycle
		prevOverage int
		totals      UsageTotals
	)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var err error
		cycle, err = repo.FindActiveCycle(ctx, sub.ID)
		if err != nil {
			return err
		}
		if cycle == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "no active billing cycle for subscription")
		}
		prevOverage = cycle.OverageOrders

		order := &models.CycleOrder{
			CycleID:    cycle.ID,
			OrderID:    input.OrderID,
			TotalCents: input.TotalCents,
		}
		if err := repo.CreateCycleOrder(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				// Already metered; leave the counters as they are.
				totals = UsageTotals{
					FreeOrdersUsed:     cycle.FreeOrdersUsed,
					OverageOrders:      cycle.OverageOrders,
					OverageAmountCents: cycle.OverageAmountCents,
				}
				return nil
			}
			return err
		}

		orders, err := repo.ListCycleOrders(ctx, cycle.ID)
		if err != nil {
			return err
		}
		totals, err = ComputeOverage(terms, orders)
		if err != nil {
			return err
		}

		cycle.FreeOrdersUsed = totals.FreeOrdersUsed
		cycle.OverageOrders = totals.OverageOrders
		cycle.OverageAmountCents = totals.OverageAmountCents
		return repo.UpdateCycleCounters(ctx, cycle)
	})
	if err != nil {
		return nil, err
	}

	if terms.BlockAfterFreeLimit && prevOverage == 0 && totals.OverageOrders > 0 {
		if err := s.gate.SetOrderingBlocked(ctx, input.MerchantID, true, "free order limit reached"); err != nil {
			s.log.Error(ctx, "block order intake", err)
		}
	}

	return s.snapshot(cycle, terms, totals), nil
}

// CurrentUsage reports the merchant's position in the running cycle.
func (s *Service) CurrentUsage(ctx context.Context, merchantID uuid.UUID) (*UsageSnapshot, error) {
	sub, terms, err := s.subscriptionTerms(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	cycle, err := s.repo.FindActiveCycle(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active billing cycle for subscription")
	}
	totals := UsageTotals{
		FreeOrdersUsed:     cycle.FreeOrdersUsed,
		OverageOrders:      cycle.OverageOrders,
		OverageAmountCents: cycle.OverageAmountCents,
	}
	return s.snapshot(cycle, terms, totals), nil
}

// EnsureCycle opens the metering window starting at start, tolerating races
// with other workers doing the same.
func (s *Service) EnsureCycle(ctx context.Context, sub *models.Subscription, start time.Time) (*models.BillingCycle, error) {
	if sub.Plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription plan not loaded")
	}

	existing, err := s.repo.FindActiveCycle(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	cycle := &models.BillingCycle{
		SubscriptionID: sub.ID,
		MerchantID:     sub.MerchantID,
		PeriodStart:    start,
		PeriodEnd:      periodEnd(start, sub.Plan.Interval),
		Status:         enums.CycleStatusActive,
	}
	if err := s.repo.CreateCycle(ctx, cycle); err != nil {
		if db.IsUniqueViolation(err, "") {
			return s.repo.FindCycleByStart(ctx, sub.ID, start)
		}
		return nil, err
	}
	return cycle, nil
}

// RolloverCycle closes an elapsed cycle, writes its invoices, opens the next
// window and lifts the order gate if the closing cycle had tripped it. Exactly
// one worker wins the close; everyone else sees a no-op.
func (s *Service) RolloverCycle(ctx context.Context, cycle models.BillingCycle) error {
	ctx = s.log.WithMerchantID(ctx, cycle.MerchantID.String())

	sub, err := s.repo.FindSubscriptionByID(ctx, cycle.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil || sub.Plan == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "cycle references a missing subscription")
	}
	contract, err := s.repo.FindContractByMerchant(ctx, cycle.MerchantID, s.now())
	if err != nil {
		return err
	}
	terms := ResolveTerms(*sub.Plan, contract)

	closedAt := s.now()
	dueDate := closedAt.AddDate(0, 0, s.cfg.InvoiceDueDays)

	var invoices []*models.Invoice
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		closed, err := repo.CloseCycleIf(ctx, cycle.ID, closedAt)
		if err != nil {
			return err
		}
		if !closed {
			return nil
		}

		if terms.MonthlyFeeCents > 0 {
			invoices = append(invoices, &models.Invoice{
				MerchantID:  cycle.MerchantID,
				CycleID:     &cycle.ID,
				InvoiceType: enums.InvoiceTypeMonthlyFee,
				Status:      enums.InvoiceStatusPending,
				AmountCents: terms.MonthlyFeeCents,
				DueDate:     dueDate,
			})
		}
		if cycle.OverageAmountCents > 0 {
			invoices = append(invoices, &models.Invoice{
				MerchantID:  cycle.MerchantID,
				CycleID:     &cycle.ID,
				InvoiceType: enums.InvoiceTypeOverage,
				Status:      enums.InvoiceStatusPending,
				AmountCents: cycle.OverageAmountCents,
				DueDate:     dueDate,
			})
		}
		for _, invoice := range invoices {
			if err := repo.CreateInvoice(ctx, invoice); err != nil {
				return err
			}
		}

		if sub.Status == enums.SubscriptionStatusActive || sub.Status == enums.SubscriptionStatusTrialing {
			next := &models.BillingCycle{
				SubscriptionID: sub.ID,
				MerchantID:     sub.MerchantID,
				PeriodStart:    cycle.PeriodEnd,
				PeriodEnd:      periodEnd(cycle.PeriodEnd, sub.Plan.Interval),
				Status:         enums.CycleStatusActive,
			}
			if err := repo.CreateCycle(ctx, next); err != nil && !db.IsUniqueViolation(err, "") {
				return err
			}
			sub.NextBillingDate = &next.PeriodEnd
			if err := repo.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(invoices) == 0 {
		return nil
	}

	s.chargeInvoices(ctx, sub, invoices)

	if terms.BlockAfterFreeLimit && cycle.OverageOrders > 0 {
		if err := s.gate.SetOrderingBlocked(ctx, cycle.MerchantID, false, "cycle rolled over"); err != nil {
			s.log.Error(ctx, "unblock order intake", err)
		}
	}

	s.log.Info(ctx, fmt.Sprintf("billing cycle closed with %d invoice(s)", len(invoices)))
	return nil
}

// chargeInvoices creates the gateway charges backing freshly written invoices.
// Gateway failures leave the invoice pending without a payment reference; the
// overdue job and the back office pick those up.
func (s *Service) chargeInvoices(ctx context.Context, sub *models.Subscription, invoices []*models.Invoice) {
	if sub.GatewayCustomerID == nil || *sub.GatewayCustomerID == "" {
		return
	}
	for _, invoice := range invoices {
		result, err := s.gateway.CreateCharge(ctx, payments.ChargeRequest{
			CustomerID:        *sub.GatewayCustomerID,
			MerchantID:        invoice.MerchantID,
			AmountCents:       invoice.AmountCents,
			DueDate:           invoice.DueDate,
			Description:       fmt.Sprintf("iFarma %s invoice", invoice.InvoiceType),
			ExternalReference: invoice.ID.String(),
		})
		if err != nil {
			s.log.Error(ctx, "create gateway charge for invoice", err)
			continue
		}
		updated, err := s.repo.UpdateInvoiceStatusIf(ctx, invoice.ID,
			[]enums.InvoiceStatus{enums.InvoiceStatusPending},
			map[string]any{
				"gateway_payment_id":  result.PaymentID,
				"gateway_invoice_url": result.InvoiceURL,
			})
		if err != nil {
			s.log.Error(ctx, "attach gateway charge to invoice", err)
			continue
		}
		if !updated {
			s.log.Warn(ctx, "invoice moved before gateway charge could be attached")
		}
	}
}

func (s *Service) snapshot(cycle *models.BillingCycle, terms EffectiveTerms, totals UsageTotals) *UsageSnapshot {
	remaining := terms.FreeOrdersPerPeriod - totals.FreeOrdersUsed
	if remaining < 0 {
		remaining = 0
	}
	limitReached := totals.FreeOrdersUsed >= terms.FreeOrdersPerPeriod
	approaching := !limitReached &&
		terms.FreeOrdersPerPeriod > 0 &&
		totals.FreeOrdersUsed*5 >= terms.FreeOrdersPerPeriod*4

	return &UsageSnapshot{
		CycleID:             cycle.ID,
		PeriodStart:         cycle.PeriodStart,
		PeriodEnd:           cycle.PeriodEnd,
		FreeOrdersPerPeriod: terms.FreeOrdersPerPeriod,
		FreeOrdersUsed:      totals.FreeOrdersUsed,
		FreeOrdersRemaining: remaining,
		OverageOrders:       totals.OverageOrders,
		OverageAmountCents:  totals.OverageAmountCents,
		ApproachingLimit:    approaching,
		LimitReached:        limitReached,
		OrderingBlocked:     terms.BlockAfterFreeLimit && limitReached && totals.OverageOrders > 0,
	}
}

func periodEnd(start time.Time, interval enums.BillingInterval) time.Time {
	if interval == enums.BillingIntervalAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
