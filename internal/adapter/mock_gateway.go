package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrMockReverseFailed = errors.New("mock gateway: reverse charge failed")

// MockWebhook is the webhook body the mock gateway understands.
type MockWebhook struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data MockWebhookData `json:"data"`
}

// MockWebhookData describes the charge inside a MockWebhook.
type MockWebhookData struct {
	TransactionID string `json:"transaction_id"`
	BookingID     string `json:"booking_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Method        string `json:"method"`
	Status        string `json:"status"`
}

// MockGateway is a development/testing PaymentGateway. Webhooks are signed
// with HMAC-SHA256 over the raw body.
type MockGateway struct {
	secret []byte
	logger *zap.Logger

	mu          sync.Mutex
	reversals   map[string]int64
	failReverse bool
}

// NewMockGateway creates a mock gateway verifying webhooks with secret.
func NewMockGateway(secret string, logger *zap.Logger) *MockGateway {
	return &MockGateway{
		secret:    []byte(secret),
		logger:    logger,
		reversals: make(map[string]int64),
	}
}

// CreateCheckoutSession returns a fake hosted checkout.
func (m *MockGateway) CreateCheckoutSession(ctx context.Context, amountCents int64, currency, correlationID string) (CheckoutSession, error) {
	id := fmt.Sprintf("cs_mock_%s", uuid.New().String()[:8])
	m.logger.Info("[MOCK GATEWAY] checkout session created",
		zap.String("session_id", id),
		zap.Int64("amount_cents", amountCents),
		zap.String("currency", currency),
		zap.String("correlation_id", correlationID),
	)
	return CheckoutSession{
		SessionID:   id,
		RedirectURL: fmt.Sprintf("https://checkout.mock.local/%s?ref=%s", id, correlationID),
	}, nil
}

// VerifyEvent checks the signature and decodes a MockWebhook.
func (m *MockGateway) VerifyEvent(ctx context.Context, raw []byte, signature string) (NormalizedEvent, error) {
	if !validSignature(m.secret, raw, signature) {
		return NormalizedEvent{}, payment.ErrInvalidSignature
	}
	var wh MockWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return NormalizedEvent{}, fmt.Errorf("decode mock webhook: %w", err)
	}
	bookingID, err := uuid.Parse(wh.Data.BookingID)
	if err != nil {
		return NormalizedEvent{}, fmt.Errorf("decode mock webhook: booking id: %w", err)
	}
	return NormalizedEvent{
		EventID:               wh.ID,
		ExternalTransactionID: wh.Data.TransactionID,
		BookingID:             bookingID,
		AmountCents:           wh.Data.Amount,
		Currency:              wh.Data.Currency,
		Method:                wh.Data.Method,
		Status:                EventStatus(wh.Data.Status),
	}, nil
}

// ReverseCharge records a reversal. Repeating it for the same charge is a no-op.
func (m *MockGateway) ReverseCharge(ctx context.Context, externalTransactionID string, amountCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failReverse {
		return ErrMockReverseFailed
	}
	if _, done := m.reversals[externalTransactionID]; done {
		return nil
	}
	m.reversals[externalTransactionID] = amountCents
	m.logger.Info("[MOCK GATEWAY] charge reversed",
		zap.String("transaction_id", externalTransactionID),
		zap.Int64("amount_cents", amountCents),
	)
	return nil
}

// FailReversals makes subsequent ReverseCharge calls fail until reset.
func (m *MockGateway) FailReversals(fail bool) {
	m.mu.Lock()
	m.failReverse = fail
	m.mu.Unlock()
}

// Reversed reports the amount reversed for a charge, if any.
func (m *MockGateway) Reversed(externalTransactionID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.reversals[externalTransactionID]
	return amount, ok
}

// Sign signs a webhook body the way the mock gateway expects.
func (m *MockGateway) Sign(raw []byte) string {
	return SignPayload(m.secret, raw)
}
