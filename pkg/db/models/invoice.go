package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/pkg/enums"
)

// Invoice is an append-only ledger entry. Rows are created pending and only
// ever move forward; paid and canceled are terminal.
type Invoice struct {
	ID                uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	MerchantID        uuid.UUID           `gorm:"column:merchant_id;type:uuid;not null;index"`
	CycleID           *uuid.UUID          `gorm:"column:cycle_id;type:uuid"`
	InvoiceType       enums.InvoiceType   `gorm:"column:invoice_type;type:invoice_type;not null"`
	Status            enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'pending'"`
	AmountCents       int64               `gorm:"column:amount_cents;not null"`
	DueDate           time.Time           `gorm:"column:due_date;not null"`
	PaidAt            *time.Time          `gorm:"column:paid_at"`
	GatewayPaymentID  *string             `gorm:"column:gateway_payment_id;index"`
	GatewayInvoiceURL *string             `gorm:"column:gateway_invoice_url"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
