package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/pagination"
)

const defaultInvoicePageSize = 25

// ListMerchantInvoices pages through the merchant's ledger, newest first.
func (s *Service) ListMerchantInvoices(ctx context.Context, merchantID uuid.UUID, limit int, cursor *pagination.Cursor, invoiceType *enums.InvoiceType, status *enums.InvoiceStatus) ([]models.Invoice, *pagination.Cursor, error) {
	if merchantID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}
	if limit <= 0 {
		limit = defaultInvoicePageSize
	}
	if invoiceType != nil && !invoiceType.IsValid() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid invoice type filter")
	}
	if status != nil && !status.IsValid() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid invoice status filter")
	}

	return s.repo.ListInvoices(ctx, ListInvoicesQuery{
		MerchantID: merchantID,
		Limit:      limit,
		Cursor:     cursor,
		Type:       invoiceType,
		Status:     status,
	})
}

// GetInvoice fetches one ledger entry.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

// SettleInvoice marks an invoice paid by hand, for payments that arrived
// outside the gateway. Finalized invoices never move again.
func (s *Service) SettleInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	paidAt := s.now()
	settled, err := s.repo.UpdateInvoiceStatusIf(ctx, id,
		[]enums.InvoiceStatus{enums.InvoiceStatusPending, enums.InvoiceStatusOverdue},
		map[string]any{"status": enums.InvoiceStatusPaid, "paid_at": paidAt})
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, s.finalizedOrMissing(ctx, id)
	}
	return s.GetInvoice(ctx, id)
}

// VoidInvoice cancels a pending or overdue invoice.
func (s *Service) VoidInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	voided, err := s.repo.UpdateInvoiceStatusIf(ctx, id,
		[]enums.InvoiceStatus{enums.InvoiceStatusPending, enums.InvoiceStatusOverdue},
		map[string]any{"status": enums.InvoiceStatusCanceled})
	if err != nil {
		return nil, err
	}
	if !voided {
		return nil, s.finalizedOrMissing(ctx, id)
	}
	return s.GetInvoice(ctx, id)
}

// MarkOverdueInvoices flips pending invoices past their due date to overdue
// and returns how many moved.
func (s *Service) MarkOverdueInvoices(ctx context.Context, asOf time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	candidates, err := s.repo.ListOverdueCandidates(ctx, asOf, limit)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, invoice := range candidates {
		updated, err := s.repo.UpdateInvoiceStatusIf(ctx, invoice.ID,
			[]enums.InvoiceStatus{enums.InvoiceStatusPending},
			map[string]any{"status": enums.InvoiceStatusOverdue})
		if err != nil {
			return moved, err
		}
		if updated {
			moved++
			invCtx := s.log.WithMerchantID(ctx, invoice.MerchantID.String())
			s.log.Warn(invCtx, fmt.Sprintf("invoice %s is overdue", invoice.ID))
		}
	}
	return moved, nil
}

// Revenue aggregates the dashboard figures.
func (s *Service) Revenue(ctx context.Context) (*RevenueStats, error) {
	return s.repo.RevenueStats(ctx)
}

func (s *Service) finalizedOrMissing(ctx context.Context, id uuid.UUID) error {
	invoice, err := s.repo.FindInvoiceByID(ctx, id)
	if err != nil {
		return err
	}
	if invoice == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "invoice is already finalized").
		WithDetails(map[string]any{"status": invoice.Status})
}
