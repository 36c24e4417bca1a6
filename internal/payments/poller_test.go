package payments

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ifarma/backoffice-backend/pkg/enums"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

type pollStep struct {
	status  PollStatus
	voucher *Voucher
	err     error
}

// scriptedGateway replays a fixed sequence of poll results; the last step
// repeats once the script runs out.
type scriptedGateway struct {
	mu    sync.Mutex
	steps []pollStep
	calls int
}

func (g *scriptedGateway) PollVoucher(_ context.Context, _ string) (PollStatus, *Voucher, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.calls
	g.calls++
	if idx >= len(g.steps) {
		idx = len(g.steps) - 1
	}
	step := g.steps[idx]
	return step.status, step.voucher, step.err
}

func (g *scriptedGateway) pollCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *scriptedGateway) EnsureCustomer(context.Context, CustomerProfile) (string, error) {
	return "cus_fake", nil
}

func (g *scriptedGateway) CreateSubscriptionPayment(context.Context, PaymentRequest) (ActivationResult, error) {
	return VoucherPending{PaymentID: "pay_fake", CheckoutURL: "https://pay.example/fake"}, nil
}

func (g *scriptedGateway) CreateCharge(context.Context, ChargeRequest) (*ChargeResult, error) {
	return &ChargeResult{PaymentID: "pay_fake"}, nil
}

type countingCreds struct {
	mu    sync.Mutex
	calls int
	errAt int
	err   error
}

func (c *countingCreds) Fresh(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil && c.calls >= c.errAt {
		return "", c.err
	}
	return "tok", nil
}

func newTestPoller(t *testing.T, gateway Gateway, creds CredentialSource, maxAttempts int) *Poller {
	t.Helper()
	poller, err := NewPoller(PollerParams{
		Gateway:     gateway,
		Credentials: creds,
		Logger:      logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard}),
		Interval:    time.Millisecond,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return poller
}

func TestPollerStopsOnPaid(t *testing.T) {
	gateway := &scriptedGateway{steps: []pollStep{
		{status: PollStatusPending},
		{status: PollStatusPending},
		{status: PollStatusPaid},
	}}
	creds := &countingCreds{}
	poller := newTestPoller(t, gateway, creds, 20)

	outcome := poller.Run(context.Background(), uuid.New(), "pay_1", "")
	if outcome.Status != enums.VoucherStatusPaid {
		t.Fatalf("expected paid, got %+v", outcome)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if gateway.pollCalls() != 3 {
		t.Fatalf("expected polling to stop after payment, got %d calls", gateway.pollCalls())
	}
	if creds.calls != 3 {
		t.Fatalf("expected credential check per attempt, got %d", creds.calls)
	}
}

func TestPollerReturnsVoucherWhenReady(t *testing.T) {
	voucher := &Voucher{PaymentID: "pay_1", Payload: "000201qr"}
	gateway := &scriptedGateway{steps: []pollStep{
		{status: PollStatusPending},
		{status: PollStatusReady, voucher: voucher},
	}}
	poller := newTestPoller(t, gateway, &countingCreds{}, 20)

	outcome := poller.Run(context.Background(), uuid.New(), "pay_1", "")
	if outcome.Status != enums.VoucherStatusReady {
		t.Fatalf("expected ready, got %+v", outcome)
	}
	if outcome.Voucher == nil || outcome.Voucher.Payload != "000201qr" {
		t.Fatalf("expected voucher in outcome, got %+v", outcome.Voucher)
	}
}

func TestPollerExpiredCredentialIsNotATimeout(t *testing.T) {
	gateway := &scriptedGateway{steps: []pollStep{{status: PollStatusPending}}}
	creds := &countingCreds{errAt: 3, err: pkgerrors.New(pkgerrors.CodeUnauthorized, "session expired")}
	poller := newTestPoller(t, gateway, creds, 20)

	outcome := poller.Run(context.Background(), uuid.New(), "pay_1", "")
	if outcome.Status != enums.VoucherStatusFailed {
		t.Fatalf("expected failed, got %+v", outcome)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected abort on attempt 3, got %d", outcome.Attempts)
	}
	typed := pkgerrors.As(outcome.Err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized code, got %v", outcome.Err)
	}
	// The aborted attempt never reaches the gateway.
	if gateway.pollCalls() != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", gateway.pollCalls())
	}
}

func TestPollerTimesOutWithCheckoutURL(t *testing.T) {
	gateway := &scriptedGateway{steps: []pollStep{{status: PollStatusPending}}}
	poller := newTestPoller(t, gateway, &countingCreds{}, 5)

	outcome := poller.Run(context.Background(), uuid.New(), "pay_1", "https://pay.example/pay_1")
	if outcome.Status != enums.VoucherStatusFailed {
		t.Fatalf("expected failed, got %+v", outcome)
	}
	if outcome.Attempts != 5 {
		t.Fatalf("expected budget of 5 attempts, got %d", outcome.Attempts)
	}
	typed := pkgerrors.As(outcome.Err)
	if typed == nil || typed.Code() != pkgerrors.CodeTimeout {
		t.Fatalf("expected timeout code, got %v", outcome.Err)
	}
	if outcome.CheckoutURL != "https://pay.example/pay_1" {
		t.Fatalf("expected checkout url escape hatch, got %q", outcome.CheckoutURL)
	}
}

func TestPollerTransientErrorBurnsAttemptAndContinues(t *testing.T) {
	gateway := &scriptedGateway{steps: []pollStep{
		{err: pkgerrors.New(pkgerrors.CodeDependency, "gateway request failed")},
		{status: PollStatusPaid},
	}}
	poller := newTestPoller(t, gateway, &countingCreds{}, 20)

	outcome := poller.Run(context.Background(), uuid.New(), "pay_1", "")
	if outcome.Status != enums.VoucherStatusPaid {
		t.Fatalf("expected paid after transient error, got %+v", outcome)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", outcome.Attempts)
	}
}

func TestPollerCancellationStopsCalls(t *testing.T) {
	gateway := &scriptedGateway{steps: []pollStep{{status: PollStatusPending}}}
	poller, err := NewPoller(PollerParams{
		Gateway:     gateway,
		Credentials: &countingCreds{},
		Logger:      logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard}),
		Interval:    50 * time.Millisecond,
		MaxAttempts: 20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	outcomeCh := make(chan PollOutcome, 1)
	go func() {
		outcomeCh <- poller.Run(ctx, uuid.New(), "pay_1", "")
	}()

	// Let the first attempt land, then cancel before the next tick.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case outcome := <-outcomeCh:
		if outcome.Err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", outcome.Err)
		}
		if outcome.Status != "" {
			t.Fatalf("canceled run must not carry a voucher status, got %q", outcome.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after cancellation")
	}

	calls := gateway.pollCalls()
	time.Sleep(100 * time.Millisecond)
	if gateway.pollCalls() != calls {
		t.Fatal("gateway polled after cancellation")
	}
}
