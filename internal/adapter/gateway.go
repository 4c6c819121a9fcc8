package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// EventStatus is the gateway-neutral outcome of a charge.
type EventStatus string

const (
	EventPaid    EventStatus = "paid"
	EventFailed  EventStatus = "failed"
	EventPending EventStatus = "pending"
)

// CheckoutSession is the opaque handle a client uses to pay.
type CheckoutSession struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// NormalizedEvent is a verified gateway notification about one charge.
type NormalizedEvent struct {
	EventID               string
	ExternalTransactionID string
	BookingID             uuid.UUID
	AmountCents           int64
	Currency              string
	Method                string
	Status                EventStatus
}

// PaymentGateway is the anti-corruption layer in front of the card processor.
type PaymentGateway interface {
	// CreateCheckoutSession starts a payment whose notifications will carry correlationID.
	CreateCheckoutSession(ctx context.Context, amountCents int64, currency, correlationID string) (CheckoutSession, error)

	// VerifyEvent authenticates a raw webhook body and normalises it.
	VerifyEvent(ctx context.Context, rawPayload []byte, signature string) (NormalizedEvent, error)

	// ReverseCharge returns amountCents of a captured charge to the payer.
	ReverseCharge(ctx context.Context, externalTransactionID string, amountCents int64) error
}

// SignPayload returns the hex HMAC-SHA256 of raw under secret.
func SignPayload(secret, raw []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret, raw []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	return hmac.Equal(got, mac.Sum(nil))
}
