// internal/domain/payment/gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/your-org/storefront-backend/internal/config"
)

// Provider payment statuses as reported by the gateway
const (
	ProviderStatusPending    = "pending"
	ProviderStatusInProcess  = "in_process"
	ProviderStatusApproved   = "approved"
	ProviderStatusRejected   = "rejected"
	ProviderStatusCancelled  = "cancelled"
	ProviderStatusRefunded   = "refunded"
	ProviderStatusChargeback = "charged_back"
)

// GatewayError is a non-2xx response from the payment provider
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// ProviderPayment is the provider's view of a payment
type ProviderPayment struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	StatusDetail      string  `json:"status_detail"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	ExternalReference string  `json:"external_reference"`

	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// ProviderRefund is the provider's confirmation of a refund
type ProviderRefund struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Amount float64 `json:"amount"`
}

type createProviderPaymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description"`
	PaymentMethodID   string  `json:"payment_method_id"`
	ExternalReference string  `json:"external_reference"`
	NotificationURL   string  `json:"notification_url,omitempty"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
}

// GatewayClient talks to the payment provider's REST API
type GatewayClient struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// NewGatewayClient creates a gateway client from configuration
func NewGatewayClient(cfg config.PaymentConfig) *GatewayClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &GatewayClient{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

// CreatePayment registers a payment with the provider. The idempotency key
// ties retries of the same attempt to one provider-side payment.
func (g *GatewayClient) CreatePayment(ctx context.Context, amount int64, currency, description, orderReference, payerEmail, notificationURL string) (*ProviderPayment, error) {
	req := createProviderPaymentRequest{
		TransactionAmount: float64(amount) / 100,
		Description:       description,
		PaymentMethodID:   "pix",
		ExternalReference: orderReference,
		NotificationURL:   notificationURL,
	}
	req.Payer.Email = payerEmail

	var out ProviderPayment
	headers := map[string]string{"X-Idempotency-Key": uuid.New().String()}
	if err := g.do(ctx, http.MethodPost, "/v1/payments", req, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPayment fetches the authoritative payment state from the provider
func (g *GatewayClient) GetPayment(ctx context.Context, externalID string) (*ProviderPayment, error) {
	var out ProviderPayment
	if err := g.do(ctx, http.MethodGet, "/v1/payments/"+externalID, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRefund refunds a payment at the provider. A nil amount refunds the
// remaining balance in full.
func (g *GatewayClient) CreateRefund(ctx context.Context, externalID string, amount *int64) (*ProviderRefund, error) {
	var body interface{}
	if amount != nil {
		body = map[string]float64{"amount": float64(*amount) / 100}
	}

	var out ProviderRefund
	headers := map[string]string{"X-Idempotency-Key": uuid.New().String()}
	if err := g.do(ctx, http.MethodPost, "/v1/payments/"+externalID+"/refunds", body, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *GatewayClient) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = string(respBody)
		}
		return &GatewayError{StatusCode: resp.StatusCode, Code: apiErr.Error, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}
