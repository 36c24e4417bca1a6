package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/pkg/enums"
)

// BillingCycle is one metering window for a subscription. At most one
// active cycle exists per subscription, enforced by a partial unique index.
type BillingCycle struct {
	ID                 uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID     uuid.UUID         `gorm:"column:subscription_id;type:uuid;not null;index"`
	MerchantID         uuid.UUID         `gorm:"column:merchant_id;type:uuid;not null;index"`
	PeriodStart        time.Time         `gorm:"column:period_start;not null"`
	PeriodEnd          time.Time         `gorm:"column:period_end;not null"`
	Status             enums.CycleStatus `gorm:"column:status;type:cycle_status;not null;default:'active'"`
	FreeOrdersUsed     int               `gorm:"column:free_orders_used;not null;default:0"`
	OverageOrders      int               `gorm:"column:overage_orders;not null;default:0"`
	OverageAmountCents int64             `gorm:"column:overage_amount_cents;not null;default:0"`
	ClosedAt           *time.Time        `gorm:"column:closed_at"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
