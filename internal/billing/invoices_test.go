package billing

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
)

func seedInvoice(f *serviceFixture, status enums.InvoiceStatus, amount int64) *models.Invoice {
	invoice := &models.Invoice{
		ID:          uuid.New(),
		MerchantID:  uuid.New(),
		InvoiceType: enums.InvoiceTypeMonthlyFee,
		Status:      status,
		AmountCents: amount,
		DueDate:     f.now.AddDate(0, 0, 5),
	}
	f.repo.invoices[invoice.ID] = invoice
	return invoice
}

func TestSettleInvoice(t *testing.T) {
	f := newFixture(t)
	invoice := seedInvoice(f, enums.InvoiceStatusOverdue, 9900)

	settled, err := f.svc.SettleInvoice(context.Background(), invoice.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settled.Status != enums.InvoiceStatusPaid || settled.PaidAt == nil {
		t.Fatalf("unexpected invoice %+v", settled)
	}
}

func TestSettleInvoiceRejectsFinalized(t *testing.T) {
	f := newFixture(t)
	invoice := seedInvoice(f, enums.InvoiceStatusPaid, 9900)

	_, err := f.svc.SettleInvoice(context.Background(), invoice.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestSettleInvoiceMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SettleInvoice(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVoidInvoice(t *testing.T) {
	f := newFixture(t)
	invoice := seedInvoice(f, enums.InvoiceStatusPending, 500)

	voided, err := f.svc.VoidInvoice(context.Background(), invoice.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if voided.Status != enums.InvoiceStatusCanceled {
		t.Fatalf("unexpected invoice %+v", voided)
	}

	// Canceled is terminal; it cannot be settled afterwards.
	_, err = f.svc.SettleInvoice(context.Background(), invoice.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestMarkOverdueInvoices(t *testing.T) {
	f := newFixture(t)
	late := seedInvoice(f, enums.InvoiceStatusPending, 9900)
	late.DueDate = f.now.AddDate(0, 0, -1)
	onTime := seedInvoice(f, enums.InvoiceStatusPending, 500)
	paid := seedInvoice(f, enums.InvoiceStatusPaid, 700)
	paid.DueDate = f.now.AddDate(0, 0, -3)

	moved, err := f.svc.MarkOverdueInvoices(context.Background(), f.now, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 invoice moved, got %d", moved)
	}
	if f.repo.invoices[late.ID].Status != enums.InvoiceStatusOverdue {
		t.Fatalf("late invoice not overdue: %+v", f.repo.invoices[late.ID])
	}
	if f.repo.invoices[onTime.ID].Status != enums.InvoiceStatusPending {
		t.Fatalf("on-time invoice moved: %+v", f.repo.invoices[onTime.ID])
	}
	if f.repo.invoices[paid.ID].Status != enums.InvoiceStatusPaid {
		t.Fatalf("paid invoice moved: %+v", f.repo.invoices[paid.ID])
	}
}

func TestRevenueAggregates(t *testing.T) {
	f := newFixture(t)
	plan := f.seedPlan(t, models.BillingPlan{Name: "Pro", Slug: "pro", MonthlyFeeCents: 9900})
	f.seedActiveSubscription(t, uuid.New(), plan)
	f.seedActiveSubscription(t, uuid.New(), plan)
	overdue := seedInvoice(f, enums.InvoiceStatusOverdue, 450)

	stats, err := f.svc.Revenue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.ActiveSubscriptions != 2 || stats.MRRCents != 19800 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.OverdueInvoices != 1 || stats.OverdueAmountCents != overdue.AmountCents {
		t.Fatalf("unexpected overdue stats %+v", stats)
	}
}
