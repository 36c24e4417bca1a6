package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ifarma/backoffice-backend/pkg/enums"
)

// BillingPlan is a catalog entry merchants can subscribe to.
type BillingPlan struct {
	ID                   uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name                 string                `gorm:"column:name;not null"`
	Slug                 string                `gorm:"column:slug;not null;uniqueIndex"`
	Interval             enums.BillingInterval `gorm:"column:interval;type:billing_interval;not null;default:'monthly'"`
	MonthlyFeeCents      int64                 `gorm:"column:monthly_fee_cents;not null;default:0"`
	FreeOrdersPerPeriod  int                   `gorm:"column:free_orders_per_period;not null;default:0"`
	OveragePercentBP     int                   `gorm:"column:overage_percent_bp;not null;default:0"`
	OverageFixedFeeCents int64                 `gorm:"column:overage_fixed_fee_cents;not null;default:0"`
	BlockAfterFreeLimit  bool                  `gorm:"column:block_after_free_limit;not null;default:false"`
	IsActive             bool                  `gorm:"column:is_active;not null;default:true"`
	Features             pq.StringArray        `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	CreatedAt            time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
