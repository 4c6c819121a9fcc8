package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"go.uber.org/zap"
)

// OmiseConfig configures the Omise gateway.
type OmiseConfig struct {
	PublicKey     string
	SecretKey     string
	WebhookSecret string
	SourceType    string
	ReturnURI     string
}

// OmiseGateway implements PaymentGateway on top of the Omise API. Checkout
// uses an offsite source so the renter is redirected to authorise the charge.
type OmiseGateway struct {
	client        *omise.Client
	webhookSecret []byte
	sourceType    string
	returnURI     string
	logger        *zap.Logger
}

// NewOmiseGateway creates an Omise-backed gateway.
func NewOmiseGateway(cfg OmiseConfig, logger *zap.Logger) (*OmiseGateway, error) {
	client, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	sourceType := cfg.SourceType
	if sourceType == "" {
		sourceType = "promptpay"
	}
	return &OmiseGateway{
		client:        client,
		webhookSecret: []byte(cfg.WebhookSecret),
		sourceType:    sourceType,
		returnURI:     cfg.ReturnURI,
		logger:        logger,
	}, nil
}

// CreateCheckoutSession creates a source and a charge against it, tagged with
// the booking id so the webhook can be correlated.
func (g *OmiseGateway) CreateCheckoutSession(ctx context.Context, amountCents int64, currency, correlationID string) (CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return CheckoutSession{}, err
	}
	currency = strings.ToLower(currency)

	src := &omise.Source{}
	if err := g.client.Do(src, &operations.CreateSource{
		Type:     g.sourceType,
		Amount:   amountCents,
		Currency: currency,
	}); err != nil {
		return CheckoutSession{}, fmt.Errorf("omise create source: %w", err)
	}

	ch := &omise.Charge{}
	if err := g.client.Do(ch, &operations.CreateCharge{
		Amount:    amountCents,
		Currency:  currency,
		Source:    src.ID,
		ReturnURI: g.returnURI,
		Metadata:  map[string]interface{}{"booking_id": correlationID},
	}); err != nil {
		return CheckoutSession{}, fmt.Errorf("omise create charge: %w", err)
	}

	g.logger.Info("omise charge created",
		zap.String("charge_id", ch.ID),
		zap.String("booking_id", correlationID),
		zap.String("status", string(ch.Status)),
	)
	return CheckoutSession{SessionID: ch.ID, RedirectURL: ch.AuthorizeURI}, nil
}

type omiseWebhook struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// VerifyEvent checks the shared-secret signature, then re-reads the event
// from Omise so that only data Omise itself returns is trusted.
func (g *OmiseGateway) VerifyEvent(ctx context.Context, raw []byte, signature string) (NormalizedEvent, error) {
	if !validSignature(g.webhookSecret, raw, signature) {
		return NormalizedEvent{}, payment.ErrInvalidSignature
	}
	var inc omiseWebhook
	if err := json.Unmarshal(raw, &inc); err != nil {
		return NormalizedEvent{}, fmt.Errorf("decode omise webhook: %w", err)
	}
	if inc.ID == "" {
		return NormalizedEvent{}, fmt.Errorf("decode omise webhook: missing event id")
	}
	if err := ctx.Err(); err != nil {
		return NormalizedEvent{}, err
	}

	ev := &omise.Event{}
	if err := g.client.Do(ev, &operations.RetrieveEvent{EventID: inc.ID}); err != nil {
		return NormalizedEvent{}, fmt.Errorf("omise retrieve event: %w", err)
	}
	if ev.Key != "charge.complete" {
		return NormalizedEvent{EventID: inc.ID, Status: EventPending}, nil
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return NormalizedEvent{}, fmt.Errorf("omise event data: %w", err)
	}
	var ch omise.Charge
	if err := json.Unmarshal(data, &ch); err != nil {
		return NormalizedEvent{}, fmt.Errorf("omise event charge: %w", err)
	}

	bookingRef, _ := ch.Metadata["booking_id"].(string)
	bookingID, err := uuid.Parse(bookingRef)
	if err != nil {
		return NormalizedEvent{}, fmt.Errorf("omise charge %s: booking id: %w", ch.ID, err)
	}

	method := "card"
	if ch.Source != nil && ch.Source.Type != "" {
		method = ch.Source.Type
	}

	status := EventPending
	switch string(ch.Status) {
	case "successful":
		status = EventPaid
	case "failed", "expired", "reversed":
		status = EventFailed
	}

	return NormalizedEvent{
		EventID:               inc.ID,
		ExternalTransactionID: ch.ID,
		BookingID:             bookingID,
		AmountCents:           ch.Amount,
		Currency:              strings.ToUpper(ch.Currency),
		Method:                method,
		Status:                status,
	}, nil
}

// ReverseCharge refunds a captured charge. It reads the charge first so a
// retry after an earlier successful refund is a no-op, and only refunds what
// is still outstanding.
func (g *OmiseGateway) ReverseCharge(ctx context.Context, externalTransactionID string, amountCents int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := &omise.Charge{}
	if err := g.client.Do(ch, &operations.RetrieveCharge{ChargeID: externalTransactionID}); err != nil {
		return fmt.Errorf("omise retrieve charge: %w", err)
	}
	outstanding := outstandingRefund(ch, amountCents)
	if outstanding == 0 {
		g.logger.Info("omise charge already reversed",
			zap.String("charge_id", externalTransactionID),
			zap.Int64("refunded_cents", ch.Refunded),
		)
		return nil
	}

	refund := &omise.Refund{}
	if err := g.client.Do(refund, &operations.CreateRefund{
		ChargeID: externalTransactionID,
		Amount:   outstanding,
	}); err != nil {
		return fmt.Errorf("omise create refund: %w", err)
	}
	g.logger.Info("omise refund created",
		zap.String("charge_id", externalTransactionID),
		zap.String("refund_id", refund.ID),
		zap.Int64("amount_cents", outstanding),
	)
	return nil
}

// outstandingRefund is what is left to refund on ch to return amountCents in total.
func outstandingRefund(ch *omise.Charge, amountCents int64) int64 {
	if ch.Reversed || ch.Refunded >= amountCents {
		return 0
	}
	return amountCents - ch.Refunded
}
