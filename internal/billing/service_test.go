package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ifarma/backoffice-backend/internal/payments"
	"github.com/ifarma/backoffice-backend/pkg/config"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	"github.com/ifarma/backoffice-backend/pkg/logger"
	"github.com/ifarma/backoffice-backend/pkg/pagination"
)

var errDuplicateKey = errors.New(`duplicate key value violates unique constraint`)

type fakeRepo struct {
	plans     map[uuid.UUID]*models.BillingPlan
	contracts map[uuid.UUID]*models.MerchantContract
	subs      map[uuid.UUID]*models.Subscription
	cycles    map[uuid.UUID]*models.BillingCycle
	orders    map[uuid.UUID][]models.CycleOrder
	invoices  map[uuid.UUID]*models.Invoice
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		plans:     make(map[uuid.UUID]*models.BillingPlan),
		contracts: make(map[uuid.UUID]*models.MerchantContract),
		subs:      make(map[uuid.UUID]*models.Subscription),
		cycles:    make(map[uuid.UUID]*models.BillingCycle),
		orders:    make(map[uuid.UUID][]models.CycleOrder),
		invoices:  make(map[uuid.UUID]*models.Invoice),
	}
}

func (r *fakeRepo) WithTx(*gorm.DB) Repository { return r }

func (r *fakeRepo) CreatePlan(_ context.Context, plan *models.BillingPlan) error {
	for _, existing := range r.plans {
		if existing.Slug == plan.Slug {
			return errDuplicateKey
		}
	}
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	copied := *plan
	r.plans[plan.ID] = &copied
	return nil
}

func (r *fakeRepo) UpdatePlan(_ context.Context, plan *models.BillingPlan) error {
	copied := *plan
	r.plans[plan.ID] = &copied
	return nil
}

func (r *fakeRepo) ListPlans(_ context.Context, params ListPlansQuery) ([]models.BillingPlan, error) {
	var plans []models.BillingPlan
	for _, plan := range r.plans {
		if params.IsActive != nil && plan.IsActive != *params.IsActive {
			continue
		}
		plans = append(plans, *plan)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].MonthlyFeeCents < plans[j].MonthlyFeeCents })
	return plans, nil
}

func (r *fakeRepo) FindPlanByID(_ context.Context, id uuid.UUID) (*models.BillingPlan, error) {
	plan, ok := r.plans[id]
	if !ok {
		return nil, nil
	}
	copied := *plan
	return &copied, nil
}

func (r *fakeRepo) FindPlanBySlug(_ context.Context, slug string) (*models.BillingPlan, error) {
	for _, plan := range r.plans {
		if plan.Slug == slug {
			copied := *plan
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) UpsertContract(_ context.Context, contract *models.MerchantContract) error {
	if contract.ID == uuid.Nil {
		contract.ID = uuid.New()
	}
	copied := *contract
	r.contracts[contract.MerchantID] = &copied
	return nil
}

func (r *fakeRepo) FindContractByMerchant(_ context.Context, merchantID uuid.UUID, at time.Time) (*models.MerchantContract, error) {
	contract, ok := r.contracts[merchantID]
	if !ok {
		return nil, nil
	}
	if contract.ValidFrom.After(at) {
		return nil, nil
	}
	if contract.ValidUntil != nil && !contract.ValidUntil.After(at) {
		return nil, nil
	}
	copied := *contract
	return &copied, nil
}

func (r *fakeRepo) ListContracts(_ context.Context) ([]models.MerchantContract, error) {
	var contracts []models.MerchantContract
	for _, contract := range r.contracts {
		contracts = append(contracts, *contract)
	}
	return contracts, nil
}

func (r *fakeRepo) UpsertSubscriptionByMerchant(_ context.Context, sub *models.Subscription) error {
	if existing, ok := r.subs[sub.MerchantID]; ok {
		existing.PlanID = sub.PlanID
		existing.Status = sub.Status
		existing.StartedAt = sub.StartedAt
		existing.NextBillingDate = sub.NextBillingDate
		return nil
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	copied := *sub
	r.subs[sub.MerchantID] = &copied
	return nil
}

func (r *fakeRepo) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	copied := *sub
	copied.Plan = nil
	r.subs[sub.MerchantID] = &copied
	return nil
}

func (r *fakeRepo) UpdateSubscriptionStatusIf(_ context.Context, id uuid.UUID, from []enums.SubscriptionStatus, updates map[string]any) (bool, error) {
	for _, sub := range r.subs {
		if sub.ID != id {
			continue
		}
		allowed := false
		for _, status := range from {
			if sub.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, nil
		}
		if status, ok := updates["status"].(enums.SubscriptionStatus); ok {
			sub.Status = status
		}
		if startedAt, ok := updates["started_at"].(time.Time); ok {
			sub.StartedAt = &startedAt
		}
		if nextBilling, ok := updates["next_billing_date"].(time.Time); ok {
			sub.NextBillingDate = &nextBilling
		}
		if canceledAt, ok := updates["canceled_at"].(time.Time); ok {
			sub.CanceledAt = &canceledAt
		}
		return true, nil
	}
	return false, nil
}

func (r *fakeRepo) findSub(match func(*models.Subscription) bool) (*models.Subscription, error) {
	for _, sub := range r.subs {
		if match(sub) {
			copied := *sub
			if plan, ok := r.plans[sub.PlanID]; ok {
				planCopy := *plan
				copied.Plan = &planCopy
			}
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) FindSubscriptionByMerchant(_ context.Context, merchantID uuid.UUID) (*models.Subscription, error) {
	return r.findSub(func(sub *models.Subscription) bool { return sub.MerchantID == merchantID })
}

func (r *fakeRepo) FindSubscriptionByID(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	return r.findSub(func(sub *models.Subscription) bool { return sub.ID == id })
}

func (r *fakeRepo) ListSubscriptionsByStatus(_ context.Context, status enums.SubscriptionStatus, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	for _, sub := range r.subs {
		if sub.Status != status {
			continue
		}
		copied := *sub
		if plan, ok := r.plans[sub.PlanID]; ok {
			planCopy := *plan
			copied.Plan = &planCopy
		}
		subs = append(subs, copied)
		if limit > 0 && len(subs) >= limit {
			break
		}
	}
	return subs, nil
}

func (r *fakeRepo) CreateCycle(_ context.Context, cycle *models.BillingCycle) error {
	for _, existing := range r.cycles {
		if existing.SubscriptionID != cycle.SubscriptionID {
			continue
		}
		if existing.Status == enums.CycleStatusActive {
			return errDuplicateKey
		}
		if existing.PeriodStart.Equal(cycle.PeriodStart) {
			return errDuplicateKey
		}
	}
	if cycle.ID == uuid.Nil {
		cycle.ID = uuid.New()
	}
	copied := *cycle
	r.cycles[cycle.ID] = &copied
	return nil
}

func (r *fakeRepo) FindActiveCycle(_ context.Context, subscriptionID uuid.UUID) (*models.BillingCycle, error) {
	for _, cycle := range r.cycles {
		if cycle.SubscriptionID == subscriptionID && cycle.Status == enums.CycleStatusActive {
			copied := *cycle
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) FindCycleByStart(_ context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*models.BillingCycle, error) {
	for _, cycle := range r.cycles {
		if cycle.SubscriptionID == subscriptionID && cycle.PeriodStart.Equal(periodStart) {
			copied := *cycle
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) UpdateCycleCounters(_ context.Context, cycle *models.BillingCycle) error {
	stored, ok := r.cycles[cycle.ID]
	if !ok {
		return errors.New("cycle not found")
	}
	stored.FreeOrdersUsed = cycle.FreeOrdersUsed
	stored.OverageOrders = cycle.OverageOrders
	stored.OverageAmountCents = cycle.OverageAmountCents
	return nil
}

func (r *fakeRepo) CloseCycleIf(_ context.Context, id uuid.UUID, closedAt time.Time) (bool, error) {
	cycle, ok := r.cycles[id]
	if !ok || cycle.Status != enums.CycleStatusActive {
		return false, nil
	}
	cycle.Status = enums.CycleStatusClosed
	cycle.ClosedAt = &closedAt
	return true, nil
}

func (r *fakeRepo) ListElapsedActiveCycles(_ context.Context, asOf time.Time, limit int) ([]models.BillingCycle, error) {
	var cycles []models.BillingCycle
	for _, cycle := range r.cycles {
		if cycle.Status == enums.CycleStatusActive && !cycle.PeriodEnd.After(asOf) {
			cycles = append(cycles, *cycle)
			if limit > 0 && len(cycles) >= limit {
				break
			}
		}
	}
	return cycles, nil
}

func (r *fakeRepo) CreateCycleOrder(_ context.Context, order *models.CycleOrder) error {
	for _, existing := range r.orders[order.CycleID] {
		if existing.OrderID == order.OrderID {
			return errDuplicateKey
		}
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	r.orders[order.CycleID] = append(r.orders[order.CycleID], *order)
	return nil
}

func (r *fakeRepo) ListCycleOrders(_ context.Context, cycleID uuid.UUID) ([]models.CycleOrder, error) {
	orders := make([]models.CycleOrder, len(r.orders[cycleID]))
	copy(orders, r.orders[cycleID])
	return orders, nil
}

func (r *fakeRepo) CreateInvoice(_ context.Context, invoice *models.Invoice) error {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	copied := *invoice
	r.invoices[invoice.ID] = &copied
	return nil
}

func (r *fakeRepo) FindInvoiceByID(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	copied := *invoice
	return &copied, nil
}

func (r *fakeRepo) FindInvoiceByGatewayPaymentID(_ context.Context, gatewayPaymentID string) (*models.Invoice, error) {
	for _, invoice := range r.invoices {
		if invoice.GatewayPaymentID != nil && *invoice.GatewayPaymentID == gatewayPaymentID {
			copied := *invoice
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) UpdateInvoiceStatusIf(_ context.Context, id uuid.UUID, from []enums.InvoiceStatus, updates map[string]any) (bool, error) {
	invoice, ok := r.invoices[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, status := range from {
		if invoice.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	if status, ok := updates["status"].(enums.InvoiceStatus); ok {
		invoice.Status = status
	}
	if paidAt, ok := updates["paid_at"].(time.Time); ok {
		invoice.PaidAt = &paidAt
	}
	if paymentID, ok := updates["gateway_payment_id"].(string); ok {
		invoice.GatewayPaymentID = &paymentID
	}
	if invoiceURL, ok := updates["gateway_invoice_url"].(string); ok {
		invoice.GatewayInvoiceURL = &invoiceURL
	}
	return true, nil
}

func (r *fakeRepo) ListInvoices(_ context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error) {
	var invoices []models.Invoice
	for _, invoice := range r.invoices {
		if invoice.MerchantID != params.MerchantID {
			continue
		}
		if params.Type != nil && invoice.InvoiceType != *params.Type {
			continue
		}
		if params.Status != nil && invoice.Status != *params.Status {
			continue
		}
		invoices = append(invoices, *invoice)
	}
	return invoices, nil, nil
}

func (r *fakeRepo) ListOverdueCandidates(_ context.Context, asOf time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	for _, invoice := range r.invoices {
		if invoice.Status == enums.InvoiceStatusPending && invoice.DueDate.Before(asOf) {
			invoices = append(invoices, *invoice)
			if limit > 0 && len(invoices) >= limit {
				break
			}
		}
	}
	return invoices, nil
}

func (r *fakeRepo) RevenueStats(_ context.Context) (*RevenueStats, error) {
	stats := &RevenueStats{}
	for _, sub := range r.subs {
		switch sub.Status {
		case enums.SubscriptionStatusActive:
			stats.ActiveSubscriptions++
			if plan, ok := r.plans[sub.PlanID]; ok {
				stats.MRRCents += plan.MonthlyFeeCents
			}
		case enums.SubscriptionStatusPendingPayment:
			stats.PendingSubscriptions++
		}
	}
	for _, invoice := range r.invoices {
		if invoice.Status == enums.InvoiceStatusOverdue {
			stats.OverdueInvoices++
			stats.OverdueAmountCents += invoice.AmountCents
		}
	}
	return stats, nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type fakeGuard struct {
	values map[string]string
}

func newFakeGuard() *fakeGuard { return &fakeGuard{values: make(map[string]string)} }

func (g *fakeGuard) Get(_ context.Context, key string) (string, error) {
	value, ok := g.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (g *fakeGuard) Set(_ context.Context, key string, value any, _ time.Duration) error {
	g.values[key] = value.(string)
	return nil
}

func (g *fakeGuard) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := g.values[key]; ok {
		return false, nil
	}
	g.values[key] = value.(string)
	return true, nil
}

func (g *fakeGuard) ActivationGuardKey(merchantID string) string {
	return "ifarma:activation:" + merchantID
}

func (g *fakeGuard) ActivationVoucherKey(merchantID string) string {
	return "ifarma:activation:voucher:" + merchantID
}

func (g *fakeGuard) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(g.values, key)
	}
	return nil
}

type gateCall struct {
	merchantID uuid.UUID
	blocked    bool
	reason     string
}

type fakeGate struct {
	calls []gateCall
	err   error
}

func (g *fakeGate) SetOrderingBlocked(_ context.Context, merchantID uuid.UUID, blocked bool, reason string) error {
	g.calls = append(g.calls, gateCall{merchantID: merchantID, blocked: blocked, reason: reason})
	return g.err
}

type pollCall struct {
	merchantID  uuid.UUID
	paymentID   string
	checkoutURL string
}

type fakeWorkflow struct {
	customerID  string
	result      payments.ActivationResult
	activateErr error

	activations []payments.ActivationRequest
	polls       []pollCall
	onTerminal  payments.TerminalFunc
}

func (w *fakeWorkflow) Activate(_ context.Context, req payments.ActivationRequest) (*payments.Activation, error) {
	w.activations = append(w.activations, req)
	if w.activateErr != nil {
		return nil, w.activateErr
	}
	if req.AmountCents == 0 {
		return &payments.Activation{Result: payments.Synchronous{}}, nil
	}
	return &payments.Activation{CustomerID: w.customerID, Result: w.result}, nil
}

func (w *fakeWorkflow) StartPoll(merchantID uuid.UUID, paymentID, checkoutURL string, onTerminal payments.TerminalFunc) *payments.PollHandle {
	w.polls = append(w.polls, pollCall{merchantID: merchantID, paymentID: paymentID, checkoutURL: checkoutURL})
	w.onTerminal = onTerminal
	return &payments.PollHandle{}
}

type fakeCharger struct {
	charges   []payments.ChargeRequest
	chargeErr error
	nextID    int
}

func (c *fakeCharger) EnsureCustomer(context.Context, payments.CustomerProfile) (string, error) {
	return "cus_fake", nil
}

func (c *fakeCharger) CreateSubscriptionPayment(context.Context, payments.PaymentRequest) (payments.ActivationResult, error) {
	return payments.VoucherPending{PaymentID: "pay_fake"}, nil
}

func (c *fakeCharger) PollVoucher(context.Context, string) (payments.PollStatus, *payments.Voucher, error) {
	return payments.PollStatusPending, nil, nil
}

func (c *fakeCharger) CreateCharge(_ context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	c.charges = append(c.charges, req)
	if c.chargeErr != nil {
		return nil, c.chargeErr
	}
	c.nextID++
	return &payments.ChargeResult{
		PaymentID:  fmt.Sprintf("charge_%d", c.nextID),
		InvoiceURL: "https://pay.example/invoice",
	}, nil
}

type serviceFixture struct {
	svc      *Service
	repo     *fakeRepo
	guard    *fakeGuard
	gate     *fakeGate
	workflow *fakeWorkflow
	charger  *fakeCharger
	now      time.Time
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	fixture := &serviceFixture{
		repo:     newFakeRepo(),
		guard:    newFakeGuard(),
		gate:     &fakeGate{},
		workflow: &fakeWorkflow{customerID: "cus_1"},
		charger:  &fakeCharger{},
		now:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	svc, err := NewService(ServiceParams{
		Repo:     fixture.repo,
		DB:       fakeTxRunner{},
		Logger:   logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard}),
		Guard:    fixture.guard,
		Gate:     fixture.gate,
		Workflow: fixture.workflow,
		Gateway:  fixture.charger,
		Billing: config.BillingConfig{
			VoucherPollInterval:    3 * time.Second,
			VoucherPollMaxAttempts: 20,
			InvoiceDueDays:         5,
			ActivationGuardTTL:     30 * time.Second,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.now = func() time.Time { return fixture.now }
	fixture.svc = svc
	return fixture
}

func (f *serviceFixture) seedPlan(t *testing.T, plan models.BillingPlan) *models.BillingPlan {
	t.Helper()
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.Interval == "" {
		plan.Interval = enums.BillingIntervalMonthly
	}
	plan.IsActive = true
	f.repo.plans[plan.ID] = &plan
	return &plan
}

func (f *serviceFixture) seedActiveSubscription(t *testing.T, merchantID uuid.UUID, plan *models.BillingPlan) (*models.Subscription, *models.BillingCycle) {
	t.Helper()
	started := f.now.AddDate(0, 0, -10)
	sub := &models.Subscription{
		ID:         uuid.New(),
		MerchantID: merchantID,
		PlanID:     plan.ID,
		Status:     enums.SubscriptionStatusActive,
		StartedAt:  &started,
	}
	f.repo.subs[merchantID] = sub

	cycle := &models.BillingCycle{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		MerchantID:     merchantID,
		PeriodStart:    started,
		PeriodEnd:      started.AddDate(0, 1, 0),
		Status:         enums.CycleStatusActive,
	}
	f.repo.cycles[cycle.ID] = cycle
	return sub, cycle
}
