// Package events holds the topics, event types and payloads shared with the
// other services on the bus.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics.
const (
	TopicBookingEvents  = "booking.events"
	TopicPaymentEvents  = "payment.events"
	TopicCampsiteEvents = "campsite.events"
)

// Booking event types.
const (
	BookingCreated   = "booking.created"
	BookingConfirmed = "booking.confirmed"
	BookingCancelled = "booking.cancelled"
	BookingExpired   = "booking.expired"
	BookingCompleted = "booking.completed"
)

// Payment event types.
const (
	PaymentSucceeded = "payment.succeeded"
	PaymentRefunded  = "payment.refunded"
	PayoutSettled    = "payout.settled"
)

// Campsite event types, produced by the catalogue service.
const (
	CampsiteUpserted    = "campsite.upserted"
	CampsiteDeactivated = "campsite.deactivated"
)

// BookingEvent is the payload for every booking.* type.
type BookingEvent struct {
	BookingID       uuid.UUID `json:"bookingId"`
	SiteID          uuid.UUID `json:"siteId"`
	ProviderID      uuid.UUID `json:"providerId"`
	RenterID        uuid.UUID `json:"renterId"`
	CheckIn         time.Time `json:"checkIn"`
	CheckOut        time.Time `json:"checkOut"`
	TotalPriceCents int64     `json:"totalPriceCents"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	PaymentStatus   string    `json:"paymentStatus"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// PaymentSucceededEvent is published after a capture is recorded.
type PaymentSucceededEvent struct {
	PaymentID             uuid.UUID `json:"paymentId"`
	BookingID             uuid.UUID `json:"bookingId"`
	RenterID              uuid.UUID `json:"renterId"`
	ExternalTransactionID string    `json:"externalTransactionId"`
	AmountCents           int64     `json:"amountCents"`
	Currency              string    `json:"currency"`
	Method                string    `json:"method"`
	PlatformShareCents    int64     `json:"platformShareCents"`
	ProviderShareCents    int64     `json:"providerShareCents"`
	OccurredAt            time.Time `json:"occurredAt"`
}

// PaymentRefundedEvent is published once a refund has been applied.
type PaymentRefundedEvent struct {
	PaymentID    uuid.UUID `json:"paymentId"`
	BookingID    uuid.UUID `json:"bookingId"`
	RenterID     uuid.UUID `json:"renterId"`
	AmountCents  int64     `json:"amountCents"`
	Currency     string    `json:"currency"`
	RefundReason string    `json:"refundReason"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// PayoutSettledEvent is published when a provider is paid for a booking.
type PayoutSettledEvent struct {
	EntryID     uuid.UUID  `json:"entryId"`
	BookingID   uuid.UUID  `json:"bookingId"`
	ProviderID  *uuid.UUID `json:"providerId,omitempty"`
	AmountCents int64      `json:"amountCents"`
	OccurredAt  time.Time  `json:"occurredAt"`
}

// CampsiteUpsertedEvent carries the listing fields this service projects.
type CampsiteUpsertedEvent struct {
	CampsiteID          uuid.UUID       `json:"campsiteId"`
	ProviderID          uuid.UUID       `json:"providerId"`
	Name                string          `json:"name"`
	NightlyRateCents    int64           `json:"nightlyRateCents"`
	MaxBookingsPerNight int             `json:"maxBookingsPerNight"`
	PricingRules        json.RawMessage `json:"pricingRules,omitempty"`
	Active              bool            `json:"active"`
	OccurredAt          time.Time       `json:"occurredAt"`
}

// CampsiteDeactivatedEvent marks a listing as withdrawn.
type CampsiteDeactivatedEvent struct {
	CampsiteID uuid.UUID `json:"campsiteId"`
	OccurredAt time.Time `json:"occurredAt"`
}
