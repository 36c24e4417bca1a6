package billing

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/pkg/db/models"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
)

func ordersOf(totals ...int64) []models.CycleOrder {
	orders := make([]models.CycleOrder, 0, len(totals))
	for _, total := range totals {
		orders = append(orders, models.CycleOrder{OrderID: uuid.New(), TotalCents: total})
	}
	return orders
}

func TestOverageChargeRoundsHalfUp(t *testing.T) {
	terms := EffectiveTerms{OveragePercentBP: 500, OverageFixedFeeCents: 0}

	// 1990 * 500 / 10000 = 99.5 -> rounds up to 100.
	if got := OverageCharge(1990, terms); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	// 1989 * 500 / 10000 = 99.45 -> rounds down to 99.
	if got := OverageCharge(1989, terms); got != 99 {
		t.Fatalf("expected 99, got %d", got)
	}
}

func TestOverageChargeAddsFixedFee(t *testing.T) {
	terms := EffectiveTerms{OveragePercentBP: 500, OverageFixedFeeCents: 100}
	if got := OverageCharge(2000, terms); got != 200 {
		t.Fatalf("expected 100 percent part + 100 fixed, got %d", got)
	}
}

func TestComputeOverageQuotaThenCharges(t *testing.T) {
	// Ten free orders, then 5% + 100 per overage order of R$20.00.
	terms := EffectiveTerms{FreeOrdersPerPeriod: 10, OveragePercentBP: 500, OverageFixedFeeCents: 100}

	totals := make([]int64, 12)
	for i := range totals {
		totals[i] = 2000
	}
	got, err := ComputeOverage(terms, ordersOf(totals...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FreeOrdersUsed != 10 {
		t.Fatalf("expected 10 free orders, got %d", got.FreeOrdersUsed)
	}
	if got.OverageOrders != 2 {
		t.Fatalf("expected 2 overage orders, got %d", got.OverageOrders)
	}
	// Each overage order: round(2000*500/10000) + 100 = 200.
	if got.OverageAmountCents != 400 {
		t.Fatalf("expected 400 cents, got %d", got.OverageAmountCents)
	}
}

func TestComputeOverageZeroQuotaChargesEverything(t *testing.T) {
	terms := EffectiveTerms{FreeOrdersPerPeriod: 0, OveragePercentBP: 250, OverageFixedFeeCents: 100}

	got, err := ComputeOverage(terms, ordersOf(2000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FreeOrdersUsed != 0 || got.OverageOrders != 1 {
		t.Fatalf("expected all orders metered as overage, got %+v", got)
	}
	// round(2000*250/10000) + 100 = 50 + 100.
	if got.OverageAmountCents != 150 {
		t.Fatalf("expected 150 cents, got %d", got.OverageAmountCents)
	}
}

func TestComputeOverageBatchMatchesIncremental(t *testing.T) {
	terms := EffectiveTerms{FreeOrdersPerPeriod: 3, OveragePercentBP: 777, OverageFixedFeeCents: 33}
	orders := ordersOf(100, 2500, 999, 1990, 0, 123456, 7)

	batch, err := ComputeOverage(terms, orders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var incremental UsageTotals
	for i := range orders {
		step, err := ComputeOverage(terms, orders[:i+1])
		if err != nil {
			t.Fatalf("unexpected error at order %d: %v", i, err)
		}
		incremental = step
	}

	if batch != incremental {
		t.Fatalf("batch %+v != incremental %+v", batch, incremental)
	}
}

func TestComputeOverageRejectsNegativeTotal(t *testing.T) {
	terms := EffectiveTerms{FreeOrdersPerPeriod: 0, OveragePercentBP: 100}

	_, err := ComputeOverage(terms, ordersOf(-1))
	if err == nil {
		t.Fatal("expected validation error for negative total")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
}

func TestComputeOverageFreeOrdersNeverExceedQuotaOrCount(t *testing.T) {
	terms := EffectiveTerms{FreeOrdersPerPeriod: 5, OveragePercentBP: 100}

	got, err := ComputeOverage(terms, ordersOf(100, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FreeOrdersUsed != 2 || got.OverageOrders != 0 || got.OverageAmountCents != 0 {
		t.Fatalf("expected all orders free under quota, got %+v", got)
	}
}
