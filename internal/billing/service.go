package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ifarma/backoffice-backend/internal/ordergate"
	"github.com/ifarma/backoffice-backend/internal/payments"
	"github.com/ifarma/backoffice-backend/pkg/config"
	"github.com/ifarma/backoffice-backend/pkg/db/models"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
	"github.com/ifarma/backoffice-backend/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type activationWorkflow interface {
	Activate(ctx context.Context, req payments.ActivationRequest) (*payments.Activation, error)
	StartPoll(merchantID uuid.UUID, paymentID, checkoutURL string, onTerminal payments.TerminalFunc) *payments.PollHandle
}

// ServiceParams configure the billing service.
type ServiceParams struct {
	Repo     Repository
	DB       txRunner
	Logger   *logger.Logger
	Guard    redis.GuardStore
	Gate     ordergate.Gate
	Workflow activationWorkflow
	Gateway  payments.Gateway
	Billing  config.BillingConfig
}

// Service implements plan management, usage metering, subscription lifecycle
// and the invoice ledger.
type Service struct {
	repo     Repository
	db       txRunner
	log      *logger.Logger
	guard    redis.GuardStore
	gate     ordergate.Gate
	workflow activationWorkflow
	gateway  payments.Gateway
	cfg      config.BillingConfig

	now func() time.Time
}

// NewService wires the billing service from its params.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("billing service requires a repository")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("billing service requires a database client")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("billing service requires a logger")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("billing service requires a guard store")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("billing service requires an order gate")
	}
	if params.Workflow == nil {
		return nil, fmt.Errorf("billing service requires an activation workflow")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("billing service requires a payment gateway")
	}
	if params.Billing.InvoiceDueDays <= 0 {
		return nil, fmt.Errorf("billing service requires a positive invoice due window")
	}

	return &Service{
		repo:     params.Repo,
		db:       params.DB,
		log:      params.Logger,
		guard:    params.Guard,
		gate:     params.Gate,
		workflow: params.Workflow,
		gateway:  params.Gateway,
		cfg:      params.Billing,
		now:      time.Now,
	}, nil
}

// GetEffectiveTerms resolves the merchant's current pricing: the subscription's
// plan defaults merged with whatever contract is in force right now.
func (s *Service) GetEffectiveTerms(ctx context.Context, merchantID uuid.UUID) (*EffectiveTerms, error) {
	_, terms, err := s.subscriptionTerms(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return &terms, nil
}

func (s *Service) subscriptionTerms(ctx context.Context, merchantID uuid.UUID) (*models.Subscription, EffectiveTerms, error) {
	sub, err := s.repo.FindSubscriptionByMerchant(ctx, merchantID)
	if err != nil {
		return nil, EffectiveTerms{}, err
	}
	if sub == nil {
		return nil, EffectiveTerms{}, pkgerrors.New(pkgerrors.CodeNotFound, "merchant has no subscription")
	}
	if sub.Plan == nil {
		plan, err := s.repo.FindPlanByID(ctx, sub.PlanID)
		if err != nil {
			return nil, EffectiveTerms{}, err
		}
		if plan == nil {
			return nil, EffectiveTerms{}, pkgerrors.New(pkgerrors.CodeInternal, "subscription references a missing plan")
		}
		sub.Plan = plan
	}

	contract, err := s.repo.FindContractByMerchant(ctx, merchantID, s.now())
	if err != nil {
		return nil, EffectiveTerms{}, err
	}
	return sub, ResolveTerms(*sub.Plan, contract), nil
}
