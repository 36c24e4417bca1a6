package models

import (
	"time"

	"github.com/google/uuid"
)

// CycleOrder records one metered order inside a billing cycle. The
// (cycle_id, order_id) unique index makes RecordOrder idempotent per cycle.
type CycleOrder struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CycleID    uuid.UUID `gorm:"column:cycle_id;type:uuid;not null;uniqueIndex:ux_cycle_orders_cycle_order,priority:1"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_cycle_orders_cycle_order,priority:2"`
	TotalCents int64     `gorm:"column:total_cents;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
