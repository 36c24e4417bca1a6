package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/api/responses"
	"github.com/ifarma/backoffice-backend/api/validators"
	"github.com/ifarma/backoffice-backend/internal/billing"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/enums"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
	"github.com/ifarma/backoffice-backend/pkg/pagination"
)

// InvoicesService is the slice of the billing service the ledger handlers use.
type InvoicesService interface {
	ListMerchantInvoices(ctx context.Context, merchantID uuid.UUID, limit int, cursor *pagination.Cursor, invoiceType *enums.InvoiceType, status *enums.InvoiceStatus) ([]models.Invoice, *pagination.Cursor, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	SettleInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	VoidInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	Revenue(ctx context.Context) (*billing.RevenueStats, error)
}

type invoiceListResponse struct {
	Invoices   []models.Invoice `json:"invoices"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// MerchantListInvoices pages through the caller's ledger, newest first.
func MerchantListInvoices(svc InvoicesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := merchantFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cursor, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}

		var invoiceType *enums.InvoiceType
		if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
			parsed, err := enums.ParseInvoiceType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice type"))
				return
			}
			invoiceType = &parsed
		}

		var status *enums.InvoiceStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseInvoiceStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice status"))
				return
			}
			status = &parsed
		}

		invoices, next, err := svc.ListMerchantInvoices(r.Context(), merchantID, limit, cursor, invoiceType, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := invoiceListResponse{Invoices: invoices}
		if next != nil {
			resp.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, resp)
	}
}

// MerchantGetInvoice returns one invoice, only to its owner.
func MerchantGetInvoice(svc InvoicesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merchantID, err := merchantFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pathUUID(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.GetInvoice(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if invoice.MerchantID != merchantID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found"))
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}

// AdminSettleInvoice marks an invoice paid out of band.
func AdminSettleInvoice(svc InvoicesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.SettleInvoice(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}

// AdminVoidInvoice cancels a pending or overdue invoice.
func AdminVoidInvoice(svc InvoicesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.VoidInvoice(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}

// AdminRevenue aggregates billing figures for the dashboard.
func AdminRevenue(svc InvoicesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Revenue(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}
