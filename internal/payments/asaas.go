package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
)

const (
	defaultAsaasBaseURL             = "https://api.asaas.com/v3"
	asaasBillingType                = "PIX"
	responseBodyReadLimit     int64 = 1024
	asaasDueDateFormat              = "2006-01-02"
	asaasQRExpirationFormat         = "2006-01-02 15:04:05"
)

var (
	errCredentialsRequired = errors.New("gateway credential source is required")

	centsInReal = decimal.NewFromInt(100)
)

// paidAsaasStatuses are the gateway payment statuses that count as settled.
var paidAsaasStatuses = map[string]bool{
	"RECEIVED":         true,
	"CONFIRMED":        true,
	"RECEIVED_IN_CASH": true,
}

// AsaasClient talks to the Asaas payments REST API.
type AsaasClient struct {
	httpClient *http.Client
	baseURL    string
	creds      CredentialSource
}

// AsaasOption configures optional client behavior.
type AsaasOption func(*AsaasClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) AsaasOption {
	return func(c *AsaasClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured gateway base URL.
func WithBaseURL(baseURL string) AsaasOption {
	return func(c *AsaasClient) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewAsaasClient builds the gateway client.
func NewAsaasClient(creds CredentialSource, opts ...AsaasOption) (*AsaasClient, error) {
	if creds == nil {
		return nil, errCredentialsRequired
	}

	client := &AsaasClient{
		creds:      creds,
		baseURL:    defaultAsaasBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultAsaasBaseURL
	}

	return client, nil
}

// EnsureCustomer finds the gateway customer for the merchant or creates one.
func (c *AsaasClient) EnsureCustomer(ctx context.Context, profile CustomerProfile) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gateway client not configured")
	}
	if profile.MerchantID.String() == "" || profile.Name == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "customer profile requires merchant id and name")
	}

	var listResp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	query := url.Values{"externalReference": {profile.MerchantID.String()}}
	if err := c.do(ctx, http.MethodGet, "customers?"+query.Encode(), nil, &listResp); err != nil {
		return "", err
	}
	if len(listResp.Data) > 0 {
		return listResp.Data[0].ID, nil
	}

	payload := map[string]string{
		"name":              profile.Name,
		"email":             profile.Email,
		"cpfCnpj":           profile.TaxID,
		"externalReference": profile.MerchantID.String(),
	}
	var createResp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "customers", payload, &createResp); err != nil {
		return "", err
	}
	if createResp.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gateway returned empty customer id")
	}
	return createResp.ID, nil
}

// CreateSubscriptionPayment creates the activation payment and immediately
// tries to fetch its voucher. A voucher that is not rendered yet comes back as
// VoucherPending with the hosted checkout URL as the fallback.
func (c *AsaasClient) CreateSubscriptionPayment(ctx context.Context, req PaymentRequest) (ActivationResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client not configured")
	}
	if req.CustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway customer id is required")
	}
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
	}

	payload := map[string]any{
		"customer":          req.CustomerID,
		"billingType":       asaasBillingType,
		"value":             centsToValue(req.AmountCents),
		"dueDate":           time.Now().UTC().Format(asaasDueDateFormat),
		"description":       req.Description,
		"externalReference": req.ExternalReference,
	}
	var created struct {
		ID         string `json:"id"`
		InvoiceURL string `json:"invoiceUrl"`
	}
	if err := c.do(ctx, http.MethodPost, "payments", payload, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned empty payment id")
	}

	voucher, err := c.fetchVoucher(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	if voucher != nil {
		return VoucherReady{Voucher: *voucher}, nil
	}
	return VoucherPending{PaymentID: created.ID, CheckoutURL: created.InvoiceURL}, nil
}

// PollVoucher reports the current voucher state for one payment.
func (c *AsaasClient) PollVoucher(ctx context.Context, paymentID string) (PollStatus, *Voucher, error) {
	if c == nil {
		return "", nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client not configured")
	}
	if paymentID == "" {
		return "", nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var payment struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "payments/"+url.PathEscape(paymentID), nil, &payment); err != nil {
		return "", nil, err
	}
	if paidAsaasStatuses[payment.Status] {
		return PollStatusPaid, nil, nil
	}

	voucher, err := c.fetchVoucher(ctx, paymentID)
	if err != nil {
		return "", nil, err
	}
	if voucher != nil {
		return PollStatusReady, voucher, nil
	}
	return PollStatusPending, nil, nil
}

// CreateCharge creates a dated invoice charge at the gateway.
func (c *AsaasClient) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client not configured")
	}
	if req.CustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway customer id is required")
	}
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}

	payload := map[string]any{
		"customer":          req.CustomerID,
		"billingType":       asaasBillingType,
		"value":             centsToValue(req.AmountCents),
		"dueDate":           req.DueDate.UTC().Format(asaasDueDateFormat),
		"description":       req.Description,
		"externalReference": req.ExternalReference,
	}
	var created struct {
		ID         string `json:"id"`
		InvoiceURL string `json:"invoiceUrl"`
	}
	if err := c.do(ctx, http.MethodPost, "payments", payload, &created); err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned empty payment id")
	}
	return &ChargeResult{PaymentID: created.ID, InvoiceURL: created.InvoiceURL}, nil
}

func (c *AsaasClient) fetchVoucher(ctx context.Context, paymentID string) (*Voucher, error) {
	var qr struct {
		Success        bool   `json:"success"`
		EncodedImage   string `json:"encodedImage"`
		Payload        string `json:"payload"`
		ExpirationDate string `json:"expirationDate"`
	}
	path := fmt.Sprintf("payments/%s/pixQrCode", url.PathEscape(paymentID))
	if err := c.do(ctx, http.MethodGet, path, nil, &qr); err != nil {
		return nil, err
	}
	if !qr.Success || qr.Payload == "" {
		return nil, nil
	}

	voucher := &Voucher{
		PaymentID:   paymentID,
		Payload:     qr.Payload,
		ImageBase64: qr.EncodedImage,
	}
	if qr.ExpirationDate != "" {
		if exp, err := time.Parse(asaasQRExpirationFormat, qr.ExpirationDate); err == nil {
			voucher.ExpiresAt = &exp
		}
	}
	return voucher, nil
}

func (c *AsaasClient) do(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.creds.Fresh(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("access_token", token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "gateway rejected credential")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "gateway request failed")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	return nil
}

func (c *AsaasClient) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

func centsToValue(cents int64) float64 {
	value, _ := decimal.NewFromInt(cents).Div(centsInReal).Float64()
	return value
}
