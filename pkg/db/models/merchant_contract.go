package models

import (
	"time"

	"github.com/google/uuid"
)

// MerchantContract carries negotiated per-merchant deviations from the plan.
// Nil override fields fall through to the plan value.
type MerchantContract struct {
	ID                           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	MerchantID                   uuid.UUID  `gorm:"column:merchant_id;type:uuid;not null;uniqueIndex"`
	OverrideMonthlyFeeCents      *int64     `gorm:"column:override_monthly_fee_cents"`
	OverrideFreeOrdersPerPeriod  *int       `gorm:"column:override_free_orders_per_period"`
	OverrideOveragePercentBP     *int       `gorm:"column:override_overage_percent_bp"`
	OverrideOverageFixedFeeCents *int64     `gorm:"column:override_overage_fixed_fee_cents"`
	OverrideBlockAfterFreeLimit  *bool      `gorm:"column:override_block_after_free_limit"`
	Notes                        *string    `gorm:"column:notes"`
	ValidFrom                    time.Time  `gorm:"column:valid_from;not null"`
	ValidUntil                   *time.Time `gorm:"column:valid_until"`
	CreatedAt                    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
