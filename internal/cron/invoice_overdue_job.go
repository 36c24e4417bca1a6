package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/ifarma/backoffice-backend/pkg/logger"
)

const defaultOverdueLimit = 250

// InvoiceOverdueJobParams configures the overdue invoice sweep.
type InvoiceOverdueJobParams struct {
	Logger  *logger.Logger
	Billing overdueMarker
	Limit   int
	Now     func() time.Time
}

type overdueMarker interface {
	MarkOverdueInvoices(ctx context.Context, asOf time.Time, limit int) (int, error)
}

// NewInvoiceOverdueJob builds the job that flips pending invoices past their
// due date to overdue.
func NewInvoiceOverdueJob(params InvoiceOverdueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultOverdueLimit
	}
	return &invoiceOverdueJob{
		logg:    params.Logger,
		billing: params.Billing,
		limit:   limit,
		now:     now,
	}, nil
}

type invoiceOverdueJob struct {
	logg    *logger.Logger
	billing overdueMarker
	limit   int
	now     func() time.Time
}

func (j *invoiceOverdueJob) Name() string { return "invoice-overdue" }

func (j *invoiceOverdueJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	moved, err := j.billing.MarkOverdueInvoices(ctx, asOf, j.limit)
	if err != nil {
		return fmt.Errorf("mark overdue invoices: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"as_of":        asOf,
		"rows_overdue": moved,
	})
	j.logg.Info(logCtx, "overdue invoice sweep complete")
	return nil
}
