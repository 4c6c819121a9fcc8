package application

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/campbook/service-reservation/internal/adapter"
	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/ledger"
	"github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/campbook/service-reservation/internal/domain/pricing"
	"github.com/campbook/service-reservation/internal/saga"
	"github.com/campbook/service-reservation/pkg/auth"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_test"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) record(t string) {
	p.mu.Lock()
	p.types = append(p.types, t)
	p.mu.Unlock()
}

func (p *recordingPublisher) BookingChanged(_ context.Context, eventType string, _ *booking.Booking) {
	p.record(eventType)
}

func (p *recordingPublisher) PaymentSucceeded(context.Context, *payment.Payment, []*ledger.Entry) {
	p.record("payment.succeeded")
}

func (p *recordingPublisher) PaymentRefunded(context.Context, *payment.Payment) {
	p.record("payment.refunded")
}

func (p *recordingPublisher) PayoutSettled(context.Context, *ledger.Entry) {
	p.record("payout.settled")
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.types {
		if t == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	db           *memDB
	payments     *memPayments
	clock        *testClock
	gateway      *adapter.MockGateway
	events       *recordingPublisher
	reservations *ReservationService
	settlement   *SettlementService
	payouts      *PayoutService
	sites        *SiteService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	db := newMemDB()
	clock := &testClock{t: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	gw := adapter.NewMockGateway(webhookSecret, logger)
	pub := &recordingPublisher{}

	bookings := memBookings{db: db}
	payments := &memPayments{db: db}
	refunds := saga.NewRefundSagaService(payments, gw, clock.Now, logger)
	settlement := NewSettlementService(bookings, payments, gw, refunds, pub, decimal.NewFromInt(20), clock.Now, logger)
	reservations := NewReservationService(bookings, memSites{db: db}, settlement, pub, "USD", clock.Now, logger)

	return &testEnv{
		db:           db,
		payments:     payments,
		clock:        clock,
		gateway:      gw,
		events:       pub,
		reservations: reservations,
		settlement:   settlement,
		payouts:      NewPayoutService(memLedger{db: db}, reservations, pub, clock.Now, logger),
		sites:        NewSiteService(memSites{db: db}, logger),
	}
}

// addSite registers an active site without pricing rules.
func (e *testEnv) addSite(t *testing.T, provider uuid.UUID, rateCents int64, cap int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, e.sites.UpsertSite(context.Background(), UpsertSiteCommand{
		ID:                  id,
		ProviderID:          provider,
		Name:                "Pine Hollow",
		NightlyRateCents:    rateCents,
		MaxBookingsPerNight: cap,
		PricingRules:        pricing.Rules{},
		Active:              true,
	}))
	return id
}

func (e *testEnv) admit(t *testing.T, renter auth.Actor, siteID uuid.UUID, in, out string) *BookingDTO {
	t.Helper()
	b, err := e.reservations.AdmitBooking(context.Background(), renter, AdmitBookingRequest{SiteID: siteID, CheckIn: in, CheckOut: out})
	require.NoError(t, err)
	return b
}

func (e *testEnv) webhook(t *testing.T, bookingID uuid.UUID, txn string, amount int64, status string) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(adapter.MockWebhook{
		ID:   "evt_" + txn,
		Type: "charge.complete",
		Data: adapter.MockWebhookData{
			TransactionID: txn,
			BookingID:     bookingID.String(),
			Amount:        amount,
			Currency:      "USD",
			Method:        "card",
			Status:        status,
		},
	})
	require.NoError(t, err)
	return raw, e.gateway.Sign(raw)
}

func (e *testEnv) pay(t *testing.T, bookingID uuid.UUID, txn string, amount int64) *SettlementOutcome {
	t.Helper()
	raw, sig := e.webhook(t, bookingID, txn, amount, "paid")
	out, err := e.settlement.HandleWebhook(context.Background(), raw, sig)
	require.NoError(t, err)
	return out
}

func renter() auth.Actor   { return auth.Actor{UserID: uuid.New(), Role: auth.RoleRenter} }
func provider() auth.Actor { return auth.Actor{UserID: uuid.New(), Role: auth.RoleProvider} }
func admin() auth.Actor    { return auth.Actor{UserID: uuid.New(), Role: auth.RoleAdmin} }
