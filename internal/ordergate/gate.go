package ordergate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

// Gate toggles whether the ordering front end accepts new orders for a
// merchant. Billing flips it when a capped plan runs out of free orders and
// flips it back once the cycle rolls over or the merchant upgrades.
type Gate interface {
	SetOrderingBlocked(ctx context.Context, merchantID uuid.UUID, blocked bool, reason string) error
}

// BlockEvent is the wire payload consumed by the ordering service.
type BlockEvent struct {
	MerchantID string    `json:"merchant_id"`
	Blocked    bool      `json:"blocked"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// ServiceParams configure the gate publisher.
type ServiceParams struct {
	Publisher *gcppubsub.Publisher
	Logger    *logger.Logger
}

// Service publishes gate events to the order gate topic.
type Service struct {
	pub publisher
	log *logger.Logger
}

// NewService wires the gate service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Publisher == nil {
		return nil, fmt.Errorf("order gate requires a publisher")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("order gate requires a logger")
	}
	return &Service{
		pub: &gcpPublisher{Publisher: params.Publisher},
		log: params.Logger,
	}, nil
}

// SetOrderingBlocked publishes the gate state for the merchant and waits for
// the broker to accept it.
func (s *Service) SetOrderingBlocked(ctx context.Context, merchantID uuid.UUID, blocked bool, reason string) error {
	if merchantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "merchant id is required")
	}

	event := BlockEvent{
		MerchantID: merchantID.String(),
		Blocked:    blocked,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal order gate event")
	}

	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type":  "ordering.gate_changed",
			"merchant_id": event.MerchantID,
			"blocked":     fmt.Sprintf("%t", blocked),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := s.pub.Publish(publishCtx, msg)
	if result == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "order gate publisher not configured")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish order gate event")
	}

	gateCtx := s.log.WithMerchantID(ctx, event.MerchantID)
	s.log.Info(gateCtx, fmt.Sprintf("order gate set blocked=%t", blocked))
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
