package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/ifarma/backoffice-backend/pkg/db/models"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

const defaultRolloverLimit = 250

// CycleRolloverJobParams configures the billing cycle rollover job.
type CycleRolloverJobParams struct {
	Logger  *logger.Logger
	Repo    elapsedCycleLister
	Billing cycleRoller
	Limit   int
	Now     func() time.Time
}

type elapsedCycleLister interface {
	ListElapsedActiveCycles(ctx context.Context, asOf time.Time, limit int) ([]models.BillingCycle, error)
}

type cycleRoller interface {
	RolloverCycle(ctx context.Context, cycle models.BillingCycle) error
}

// NewCycleRolloverJob builds the job that closes elapsed billing cycles,
// writes their invoices and opens the next period.
func NewCycleRolloverJob(params CycleRolloverJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository required")
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
		limit = defaultRolloverLimit
	}
	return &cycleRolloverJob{
		logg:    params.Logger,
		repo:    params.Repo,
		billing: params.Billing,
		limit:   limit,
		now:     now,
	}, nil
}

type cycleRolloverJob struct {
	logg    *logger.Logger
	repo    elapsedCycleLister
	billing cycleRoller
	limit   int
	now     func() time.Time
}

func (j *cycleRolloverJob) Name() string { return "cycle-rollover" }

func (j *cycleRolloverJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	cycles, err := j.repo.ListElapsedActiveCycles(ctx, asOf, j.limit)
	if err != nil {
		return fmt.Errorf("list elapsed cycles: %w", err)
	}

	var errs error
	rolled := 0
	for i := range cycles {
		cycleCtx := j.logg.WithFields(ctx, map[string]any{
			"cycle_id":    cycles[i].ID,
			"merchant_id": cycles[i].MerchantID,
		})
		if err := j.billing.RolloverCycle(cycleCtx, cycles[i]); err != nil {
			j.logg.Error(cycleCtx, "cycle rollover failed", err)
			errs = multierr.Append(errs, err)
			continue
		}
		rolled++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(cycles),
		"rolled":     rolled,
	})
	j.logg.Info(reportCtx, "cycle rollover loop complete")
	return errs
}
