package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ifarma/backoffice-backend/pkg/logger"
)

// ActivationRequest asks the gateway for the money a plan activation needs.
type ActivationRequest struct {
	Profile     CustomerProfile
	AmountCents int64
	Description string
	Reference   string
}

// Activation is the gateway side of a started activation.
type Activation struct {
	CustomerID string
	Result     ActivationResult
}

// TerminalFunc receives the final outcome of a polling run. It is not called
// when the run is canceled.
type TerminalFunc func(ctx context.Context, outcome PollOutcome)

// PollHandle controls one in-flight polling run.
type PollHandle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	outcome PollOutcome
}

// Cancel stops the run. No further gateway calls are made after the current
// attempt finishes.
func (h *PollHandle) Cancel() { h.cancel() }

// Done closes when the run has finished.
func (h *PollHandle) Done() <-chan struct{} { return h.done }

// Outcome is valid only after Done is closed.
func (h *PollHandle) Outcome() PollOutcome { return h.outcome }

// WorkflowParams configure the activation workflow.
type WorkflowParams struct {
	Gateway Gateway
	Poller  *Poller
	Logger  *logger.Logger
}

// Workflow drives plan activation payments: it creates the gateway charge and
// supervises voucher polling, keeping at most one polling run per merchant.
type Workflow struct {
	gateway Gateway
	poller  *Poller
	log     *logger.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*PollHandle
}

// NewWorkflow wires the activation workflow.
func NewWorkflow(params WorkflowParams) (*Workflow, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("payments workflow requires a gateway")
	}
	if params.Poller == nil {
		return nil, fmt.Errorf("payments workflow requires a poller")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("payments workflow requires a logger")
	}
	return &Workflow{
		gateway: params.Gateway,
		poller:  params.Poller,
		log:     params.Logger,
		active:  make(map[uuid.UUID]*PollHandle),
	}, nil
}

// Activate starts a paid activation at the gateway. Free plans never reach the
// gateway and activate synchronously.
func (w *Workflow) Activate(ctx context.Context, req ActivationRequest) (*Activation, error) {
	if req.AmountCents == 0 {
		return &Activation{Result: Synchronous{}}, nil
	}

	customerID, err := w.gateway.EnsureCustomer(ctx, req.Profile)
	if err != nil {
		return nil, err
	}

	result, err := w.gateway.CreateSubscriptionPayment(ctx, PaymentRequest{
		CustomerID:        customerID,
		MerchantID:        req.Profile.MerchantID,
		AmountCents:       req.AmountCents,
		Description:       req.Description,
		ExternalReference: req.Reference,
	})
	if err != nil {
		return nil, err
	}
	return &Activation{CustomerID: customerID, Result: result}, nil
}

// StartPoll begins polling the payment's voucher in the background. Only one
// run per merchant is kept; a second call while a run is in flight returns the
// existing handle. onTerminal fires once with the final outcome unless the run
// is canceled first.
func (w *Workflow) StartPoll(merchantID uuid.UUID, paymentID, checkoutURL string, onTerminal TerminalFunc) *PollHandle {
	w.mu.Lock()
	if existing, ok := w.active[merchantID]; ok {
		w.mu.Unlock()
		return existing
	}

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &PollHandle{cancel: cancel, done: make(chan struct{})}
	w.active[merchantID] = handle
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			delete(w.active, merchantID)
			w.mu.Unlock()
			cancel()
			close(handle.done)
		}()

		outcome := w.poller.Run(runCtx, merchantID, paymentID, checkoutURL)
		handle.outcome = outcome

		if runCtx.Err() != nil && outcome.Status == "" {
			w.log.Warn(runCtx, "voucher polling canceled")
			return
		}
		if onTerminal != nil {
			// Callbacks write durable state and must outlive the run context.
			onTerminal(context.Background(), outcome)
		}
	}()

	return handle
}

// Polling reports whether a run is in flight for the merchant.
func (w *Workflow) Polling(merchantID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.active[merchantID]
	return ok
}
