package enums

import "fmt"

// VoucherStatus follows a payment voucher from request to settlement.
type VoucherStatus string

const (
	VoucherStatusRequested VoucherStatus = "requested"
	VoucherStatusPendingQR VoucherStatus = "pending_qr"
	VoucherStatusReady     VoucherStatus = "ready"
	VoucherStatusPaid      VoucherStatus = "paid"
	VoucherStatusFailed    VoucherStatus = "failed"
)

var validVoucherStatuses = []VoucherStatus{
	VoucherStatusRequested,
	VoucherStatusPendingQR,
	VoucherStatusReady,
	VoucherStatusPaid,
	VoucherStatusFailed,
}

// String implements fmt.Stringer.
func (v VoucherStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v VoucherStatus) IsValid() bool {
	for _, candidate := range validVoucherStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVoucherStatus converts raw input into a VoucherStatus.
func ParseVoucherStatus(value string) (VoucherStatus, error) {
	for _, candidate := range validVoucherStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid voucher status %q", value)
}
