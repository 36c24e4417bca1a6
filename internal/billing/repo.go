package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	"github.com/ifarma/backoffice-backend/pkg/pagination"
)

// Repository handles billing persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreatePlan(ctx context.Context, plan *models.BillingPlan) error
	UpdatePlan(ctx context.Context, plan *models.BillingPlan) error
	ListPlans(ctx context.Context, params ListPlansQuery) ([]models.BillingPlan, error)
	FindPlanByID(ctx context.Context, id uuid.UUID) (*models.BillingPlan, error)
	FindPlanBySlug(ctx context.Context, slug string) (*models.BillingPlan, error)

	UpsertContract(ctx context.Context, contract *models.MerchantContract) error
	FindContractByMerchant(ctx context.Context, merchantID uuid.UUID, at time.Time) (*models.MerchantContract, error)
	ListContracts(ctx context.Context) ([]models.MerchantContract, error)

	UpsertSubscriptionByMerchant(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscriptionStatusIf(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, updates map[string]any) (bool, error)
	FindSubscriptionByMerchant(ctx context.Context, merchantID uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListSubscriptionsByStatus(ctx context.Context, status enums.SubscriptionStatus, limit int) ([]models.Subscription, error)

	CreateCycle(ctx context.Context, cycle *models.BillingCycle) error
	FindActiveCycle(ctx context.Context, subscriptionID uuid.UUID) (*models.BillingCycle, error)
	FindCycleByStart(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*models.BillingCycle, error)
	UpdateCycleCounters(ctx context.Context, cycle *models.BillingCycle) error
	CloseCycleIf(ctx context.Context, id uuid.UUID, closedAt time.Time) (bool, error)
	ListElapsedActiveCycles(ctx context.Context, asOf time.Time, limit int) ([]models.BillingCycle, error)

	CreateCycleOrder(ctx context.Context, order *models.CycleOrder) error
	ListCycleOrders(ctx context.Context, cycleID uuid.UUID) ([]models.CycleOrder, error)

	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindInvoiceByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Invoice, error)
	UpdateInvoiceStatusIf(ctx context.Context, id uuid.UUID, from []enums.InvoiceStatus, updates map[string]any) (bool, error)
	ListInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error)
	ListOverdueCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error)

	RevenueStats(ctx context.Context) (*RevenueStats, error)
}

type repository struct {
	db *gorm.DB
}

// ListPlansQuery configures billing plan list queries.
type ListPlansQuery struct {
	IsActive *bool
}

// ListInvoicesQuery configures invoice list queries.
type ListInvoicesQuery struct {
	MerchantID uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	Type       *enums.InvoiceType
	Status     *enums.InvoiceStatus
}

// RevenueStats aggregates billing figures for the admin dashboard.
type RevenueStats struct {
	ActiveSubscriptions  int64 `gorm:"column:active_subscriptions"`
	PendingSubscriptions int64 `gorm:"column:pending_subscriptions"`
	MRRCents             int64 `gorm:"column:mrr_cents"`
	OverdueInvoices      int64 `gorm:"column:overdue_invoices"`
	OverdueAmountCents   int64 `gorm:"column:overdue_amount_cents"`
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePlan(ctx context.Context, plan *models.BillingPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) UpdatePlan(ctx context.Context, plan *models.BillingPlan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *repository) ListPlans(ctx context.Context, params ListPlansQuery) ([]models.BillingPlan, error) {
	query := r.db.WithContext(ctx).Model(&models.BillingPlan{})
	if params.IsActive != nil {
		query = query.Where("is_active = ?", *params.IsActive)
	}

	var plans []models.BillingPlan
	if err := query.Order("monthly_fee_cents ASC, name ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) FindPlanByID(ctx context.Context, id uuid.UUID) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindPlanBySlug(ctx context.Context, slug string) (*models.BillingPlan, error) {
	if slug == "" {
		return nil, nil
	}
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("slug = ?", slug).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) UpsertContract(ctx context.Context, contract *models.MerchantContract) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "merchant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"override_monthly_fee_cents",
				"override_free_orders_per_period",
				"override_overage_percent_bp",
				"override_overage_fixed_fee_cents",
				"override_block_after_free_limit",
				"notes",
				"valid_from",
				"valid_until",
				"updated_at",
			}),
		}).
		Create(contract).Error
}

func (r *repository) FindContractByMerchant(ctx context.Context, merchantID uuid.UUID, at time.Time) (*models.MerchantContract, error) {
	var contract models.MerchantContract
	if err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Where("valid_from <= ?", at).
		Where("valid_until IS NULL OR valid_until > ?", at).
		First(&contract).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (r *repository) ListContracts(ctx context.Context) ([]models.MerchantContract, error) {
	var contracts []models.MerchantContract
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&contracts).Error; err != nil {
		return nil, err
	}
	return contracts, nil
}

// UpsertSubscriptionByMerchant inserts or overwrites the merchant's single
// subscription row keyed on merchant_id.
func (r *repository) UpsertSubscriptionByMerchant(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).
		Omit("Plan").
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "merchant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan_id",
				"status",
				"started_at",
				"next_billing_date",
				"canceled_at",
				"gateway_customer_id",
				"gateway_payment_id",
				"updated_at",
			}),
		}).
		Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Omit("Plan").Save(subscription).Error
}

// UpdateSubscriptionStatusIf applies updates only while the row is still in one
// of the expected statuses. Returns false when the guard did not match.
func (r *repository) UpdateSubscriptionStatusIf(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status IN (?)", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindSubscriptionByMerchant(ctx context.Context, merchantID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("merchant_id = ?", merchantID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptionsByStatus(ctx context.Context, status enums.SubscriptionStatus, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("status = ?", status).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) CreateCycle(ctx context.Context, cycle *models.BillingCycle) error {
	return r.db.WithContext(ctx).Create(cycle).Error
}

func (r *repository) FindActiveCycle(ctx context.Context, subscriptionID uuid.UUID) (*models.BillingCycle, error) {
	var cycle models.BillingCycle
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND status = ?", subscriptionID, enums.CycleStatusActive).
		First(&cycle).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &cycle, nil
}

func (r *repository) FindCycleByStart(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*models.BillingCycle, error) {
	var cycle models.BillingCycle
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND period_start = ?", subscriptionID, periodStart).
		First(&cycle).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &cycle, nil
}

func (r *repository) UpdateCycleCounters(ctx context.Context, cycle *models.BillingCycle) error {
	return r.db.WithContext(ctx).
		Model(&models.BillingCycle{}).
		Where("id = ?", cycle.ID).
		Updates(map[string]any{
			"free_orders_used":     cycle.FreeOrdersUsed,
			"overage_orders":       cycle.OverageOrders,
			"overage_amount_cents": cycle.OverageAmountCents,
		}).Error
}

// CloseCycleIf flips an active cycle to closed. Returns false when the cycle
// was already closed by a concurrent run.
func (r *repository) CloseCycleIf(ctx context.Context, id uuid.UUID, closedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.BillingCycle{}).
		Where("id = ? AND status = ?", id, enums.CycleStatusActive).
		Updates(map[string]any{
			"status":    enums.CycleStatusClosed,
			"closed_at": closedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListElapsedActiveCycles(ctx context.Context, asOf time.Time, limit int) ([]models.BillingCycle, error) {
	if limit <= 0 {
		limit = 250
	}
	var cycles []models.BillingCycle
	if err := r.db.WithContext(ctx).
		Where("status = ? AND period_end <= ?", enums.CycleStatusActive, asOf).
		Order("period_end ASC").
		Limit(limit).
		Find(&cycles).Error; err != nil {
		return nil, err
	}
	return cycles, nil
}

func (r *repository) CreateCycleOrder(ctx context.Context, order *models.CycleOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) ListCycleOrders(ctx context.Context, cycleID uuid.UUID) ([]models.CycleOrder, error) {
	var orders []models.CycleOrder
	if err := r.db.WithContext(ctx).
		Where("cycle_id = ?", cycleID).
		Order("created_at ASC, id ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindInvoiceByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindInvoiceByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*models.Invoice, error) {
	if gatewayPaymentID == "" {
		return nil, nil
	}
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Where("gateway_payment_id = ?", gatewayPaymentID).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// UpdateInvoiceStatusIf applies updates only while the invoice is still in one
// of the expected statuses.
func (r *repository) UpdateInvoiceStatusIf(ctx context.Context, id uuid.UUID, from []enums.InvoiceStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status IN (?)", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("merchant_id = ?", params.MerchantID)
	if params.Type != nil {
		query = query.Where("invoice_type = ?", *params.Type)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var invoices []models.Invoice
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&invoices).Error; err != nil {
		return nil, nil, err
	}

	if len(invoices) > limit {
		next := invoices[limit]
		invoices = invoices[:limit]
		return invoices, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return invoices, nil, nil
}

func (r *repository) ListOverdueCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = 250
	}
	var invoices []models.Invoice
	if err := r.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", enums.InvoiceStatusPending, asOf).
		Order("due_date ASC").
		Limit(limit).
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) RevenueStats(ctx context.Context) (*RevenueStats, error) {
	var stats RevenueStats
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			(SELECT COUNT(*) FROM subscriptions WHERE status = 'active') AS active_subscriptions,
			(SELECT COUNT(*) FROM subscriptions WHERE status = 'pending_payment') AS pending_subscriptions,
			(SELECT COALESCE(SUM(p.monthly_fee_cents), 0)
				FROM subscriptions s JOIN billing_plans p ON p.id = s.plan_id
				WHERE s.status = 'active') AS mrr_cents,
			(SELECT COUNT(*) FROM invoices WHERE status = 'overdue') AS overdue_invoices,
			(SELECT COALESCE(SUM(amount_cents), 0) FROM invoices WHERE status = 'overdue') AS overdue_amount_cents
	`).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
