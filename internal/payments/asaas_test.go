package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
)

type staticCreds struct {
	token string
	err   error
}

func (s staticCreds) Fresh(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func mustParseDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("parse date %q: %v", value, err)
	}
	return parsed
}

func newTestClient(t *testing.T, handler http.Handler) (*AsaasClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewAsaasClient(staticCreds{token: "tok-123"}, WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client, server
}

func TestEnsureCustomerReturnsExisting(t *testing.T) {
	merchantID := uuid.New()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/customers" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("externalReference"); got != merchantID.String() {
			t.Fatalf("unexpected external reference %q", got)
		}
		if got := r.Header.Get("access_token"); got != "tok-123" {
			t.Fatalf("unexpected token header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "cus_existing"}},
		})
	}))

	id, err := client.EnsureCustomer(context.Background(), CustomerProfile{MerchantID: merchantID, Name: "Farmacia Central"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "cus_existing" {
		t.Fatalf("expected existing customer, got %q", id)
	}
}

func TestEnsureCustomerCreatesWhenMissing(t *testing.T) {
	merchantID := uuid.New()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		case http.MethodPost:
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["externalReference"] != merchantID.String() {
				t.Fatalf("unexpected external reference %q", body["externalReference"])
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "cus_new"})
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))

	id, err := client.EnsureCustomer(context.Background(), CustomerProfile{MerchantID: merchantID, Name: "Farmacia Central"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "cus_new" {
		t.Fatalf("expected created customer, got %q", id)
	}
}

func TestCreateSubscriptionPaymentVoucherReady(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/payments":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["billingType"] != "PIX" {
				t.Fatalf("unexpected billing type %v", body["billingType"])
			}
			if body["value"] != 99.0 {
				t.Fatalf("expected value 99.0, got %v", body["value"])
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "pay_1", "invoiceUrl": "https://pay.example/pay_1"})
		case r.Method == http.MethodGet && r.URL.Path == "/payments/pay_1/pixQrCode":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":      true,
				"payload":      "000201qrpayload",
				"encodedImage": "aW1n",
			})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	result, err := client.CreateSubscriptionPayment(context.Background(), PaymentRequest{
		CustomerID:  "cus_1",
		MerchantID:  uuid.New(),
		AmountCents: 9900,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready, ok := result.(VoucherReady)
	if !ok {
		t.Fatalf("expected VoucherReady, got %T", result)
	}
	if ready.Voucher.PaymentID != "pay_1" || ready.Voucher.Payload != "000201qrpayload" {
		t.Fatalf("unexpected voucher %+v", ready.Voucher)
	}
}

func TestCreateSubscriptionPaymentVoucherPending(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/payments":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "pay_2", "invoiceUrl": "https://pay.example/pay_2"})
		case r.Method == http.MethodGet && r.URL.Path == "/payments/pay_2/pixQrCode":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	result, err := client.CreateSubscriptionPayment(context.Background(), PaymentRequest{
		CustomerID:  "cus_1",
		MerchantID:  uuid.New(),
		AmountCents: 4900,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending, ok := result.(VoucherPending)
	if !ok {
		t.Fatalf("expected VoucherPending, got %T", result)
	}
	if pending.PaymentID != "pay_2" || pending.CheckoutURL != "https://pay.example/pay_2" {
		t.Fatalf("unexpected pending result %+v", pending)
	}
}

func TestPollVoucherPaidStatuses(t *testing.T) {
	status := "CONFIRMED"
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay_3" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}))

	got, voucher, err := client.PollVoucher(context.Background(), "pay_3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != PollStatusPaid || voucher != nil {
		t.Fatalf("expected paid with no voucher, got %v %+v", got, voucher)
	}
}

func TestPollVoucherPendingWhenQRNotRendered(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/pay_4":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "PENDING"})
		case "/payments/pay_4/pixQrCode":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	got, voucher, err := client.PollVoucher(context.Background(), "pay_4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != PollStatusPending || voucher != nil {
		t.Fatalf("expected pending, got %v %+v", got, voucher)
	}
}

func TestDoMapsUnauthorizedToTypedCode(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"code":"invalid_api_key"}]}`, http.StatusUnauthorized)
	}))

	_, _, err := client.PollVoucher(context.Background(), "pay_5")
	if err == nil {
		t.Fatal("expected error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized code, got %v", err)
	}
}

func TestCreateChargeSendsDueDate(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["dueDate"] == "" || body["dueDate"] == nil {
			t.Fatal("expected due date in payload")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "pay_6", "invoiceUrl": "https://pay.example/pay_6"})
	}))

	result, err := client.CreateCharge(context.Background(), ChargeRequest{
		CustomerID:  "cus_1",
		MerchantID:  uuid.New(),
		AmountCents: 1500,
		DueDate:     mustParseDate(t, "2026-10-05"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PaymentID != "pay_6" || result.InvoiceURL == "" {
		t.Fatalf("unexpected charge result %+v", result)
	}
}
