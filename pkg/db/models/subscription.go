package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/pkg/enums"
)

// Subscription binds a merchant to a billing plan. One row per merchant;
// plan migrations overwrite it in place.
type Subscription struct {
	ID                uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	MerchantID        uuid.UUID                `gorm:"column:merchant_id;type:uuid;not null;uniqueIndex"`
	PlanID            uuid.UUID                `gorm:"column:plan_id;type:uuid;not null;index"`
	Status            enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending_payment'"`
	StartedAt         *time.Time               `gorm:"column:started_at"`
	NextBillingDate   *time.Time               `gorm:"column:next_billing_date"`
	CanceledAt        *time.Time               `gorm:"column:canceled_at"`
	GatewayCustomerID *string                  `gorm:"column:gateway_customer_id"`
	GatewayPaymentID  *string                  `gorm:"column:gateway_payment_id"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`

	Plan *BillingPlan `gorm:"foreignKey:PlanID"`
}
