package payments

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/pkg/enums"
)

// Voucher is the instant-payment QR handed to the merchant.
type Voucher struct {
	PaymentID   string
	Payload     string
	ImageBase64 string
	ExpiresAt   *time.Time
}

// ActivationResult is the closed set of outcomes when a plan activation
// payment is created at the gateway. Exactly one of the three shapes is
// returned; callers must switch on the concrete type.
type ActivationResult interface {
	isActivationResult()
}

// Synchronous means no payment is needed; the subscription can activate now.
type Synchronous struct{}

// VoucherReady carries a voucher the merchant can pay immediately.
type VoucherReady struct {
	Voucher Voucher
}

// VoucherPending means the gateway accepted the payment but the voucher is not
// rendered yet; callers poll until it is.
type VoucherPending struct {
	PaymentID   string
	CheckoutURL string
}

func (Synchronous) isActivationResult()    {}
func (VoucherReady) isActivationResult()   {}
func (VoucherPending) isActivationResult() {}

// PollStatus is the gateway-side view of a voucher during polling.
type PollStatus string

const (
	PollStatusPaid    PollStatus = "paid"
	PollStatusReady   PollStatus = "ready"
	PollStatusPending PollStatus = "pending"
)

// CustomerProfile identifies the merchant at the gateway.
type CustomerProfile struct {
	MerchantID uuid.UUID
	Name       string
	Email      string
	TaxID      string
}

// PaymentRequest creates an activation payment for a plan fee.
type PaymentRequest struct {
	CustomerID        string
	MerchantID        uuid.UUID
	AmountCents       int64
	Description       string
	ExternalReference string
}

// ChargeRequest creates an invoice charge with a future due date.
type ChargeRequest struct {
	CustomerID        string
	MerchantID        uuid.UUID
	AmountCents       int64
	DueDate           time.Time
	Description       string
	ExternalReference string
}

// ChargeResult is the gateway record backing a ledger invoice.
type ChargeResult struct {
	PaymentID  string
	InvoiceURL string
}

// Gateway abstracts the instant-payment provider.
type Gateway interface {
	EnsureCustomer(ctx context.Context, profile CustomerProfile) (string, error)
	CreateSubscriptionPayment(ctx context.Context, req PaymentRequest) (ActivationResult, error)
	PollVoucher(ctx context.Context, paymentID string) (PollStatus, *Voucher, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// CredentialSource supplies a fresh gateway credential. Implementations may
// rotate the underlying token between calls; an error means the credential is
// expired and cannot be refreshed.
type CredentialSource interface {
	Fresh(ctx context.Context) (string, error)
}

// PollOutcome is the terminal state of one voucher polling run.
type PollOutcome struct {
	MerchantID  uuid.UUID
	PaymentID   string
	Status      enums.VoucherStatus
	Voucher     *Voucher
	CheckoutURL string
	Attempts    int
	Err         error
}
