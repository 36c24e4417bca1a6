package billing

import (
	"github.com/shopspring/decimal"

	"github.com/ifarma/backoffice-backend/pkg/db/models"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
)

var basisPointDivisor = decimal.NewFromInt(10000)

// UsageTotals is the recomputed state of a cycle after metering its orders.
type UsageTotals struct {
	FreeOrdersUsed     int
	OverageOrders      int
	OverageAmountCents int64
}

// OverageCharge prices a single overage order:
// round-half-up(total_cents * percent_bp / 10000) + fixed_fee_cents.
func OverageCharge(totalCents int64, terms EffectiveTerms) int64 {
	percent := decimal.NewFromInt(totalCents).
		Mul(decimal.NewFromInt(int64(terms.OveragePercentBP))).
		Div(basisPointDivisor).
		Round(0)
	return percent.IntPart() + terms.OverageFixedFeeCents
}

// ComputeOverage meters the cycle's orders in arrival order: the first
// FreeOrdersPerPeriod orders are free, every later order is charged. Computing
// over the full list yields the same totals as metering incrementally.
func ComputeOverage(terms EffectiveTerms, orders []models.CycleOrder) (UsageTotals, error) {
	var totals UsageTotals
	for _, order := range orders {
		if order.TotalCents < 0 {
			return UsageTotals{}, pkgerrors.New(pkgerrors.CodeValidation, "order total must be a non-negative amount").
				WithDetails(map[string]any{"order_id": order.OrderID, "total_cents": order.TotalCents})
		}
		if totals.FreeOrdersUsed < terms.FreeOrdersPerPeriod {
			totals.FreeOrdersUsed++
			continue
		}
		totals.OverageOrders++
		totals.OverageAmountCents += OverageCharge(order.TotalCents, terms)
	}
	return totals, nil
}
