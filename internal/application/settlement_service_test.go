package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/ledger"
	"github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/campbook/service-reservation/pkg/events"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleWebhook_CapturesAndSplits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")

	out := env.pay(t, b.ID, "txn_100", 10000)
	assert.False(t, out.Replayed)
	assert.Equal(t, string(payment.StatusSuccessful), out.PaymentStatus)
	assert.Equal(t, string(booking.StatusConfirmed), out.BookingStatus)

	got, err := env.reservations.bookings.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status())
	assert.Equal(t, booking.PaymentPaid, got.PaymentStatus())

	entries := env.db.ledgerFor(b.ID)
	require.Len(t, entries, 2)
	byPayee := map[ledger.Payee]*ledger.Entry{}
	for _, e := range entries {
		assert.Equal(t, ledger.KindCaptureSplit, e.Kind)
		assert.Equal(t, ledger.StatusPending, e.Status)
		byPayee[e.Payee] = e
	}
	assert.Equal(t, int64(2000), byPayee[ledger.PayeePlatform].AmountCents)
	assert.Equal(t, int64(8000), byPayee[ledger.PayeeProvider].AmountCents)
	assert.Equal(t, int64(10000), ledger.NetCaptured(entries))

	assert.Equal(t, 1, env.events.count(events.PaymentSucceeded))
	assert.Equal(t, 1, env.events.count(events.BookingConfirmed))
}

func TestHandleWebhook_ReplayWritesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")
	raw, sig := env.webhook(t, b.ID, "txn_dup", 10000, "paid")

	first, err := env.settlement.HandleWebhook(ctx, raw, sig)
	require.NoError(t, err)
	second, err := env.settlement.HandleWebhook(ctx, raw, sig)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, 1, env.db.paymentCount())
	assert.Len(t, env.db.ledgerFor(b.ID), 2)
	assert.Equal(t, 1, env.events.count(events.PaymentSucceeded))
}

func TestHandleWebhook_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 2)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")

	raw, _ := env.webhook(t, b.ID, "txn_sig", 10000, "paid")
	_, err := env.settlement.HandleWebhook(ctx, raw, "deadbeef")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	raw, sig := env.webhook(t, b.ID, "txn_failed", 10000, "failed")
	_, err = env.settlement.HandleWebhook(ctx, raw, sig)
	assert.ErrorIs(t, err, payment.ErrEventNotPaid)

	raw, sig = env.webhook(t, uuid.New(), "txn_orphan", 10000, "paid")
	_, err = env.settlement.HandleWebhook(ctx, raw, sig)
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)

	assert.Zero(t, env.db.paymentCount())
}

func TestHandleWebhook_AmountMismatchIsReturned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")

	out := env.pay(t, b.ID, "txn_short", 900)
	assert.True(t, out.Returned)
	assert.Equal(t, string(payment.StatusRefunded), out.PaymentStatus)
	assert.Equal(t, string(booking.StatusPending), out.BookingStatus)

	amount, reversed := env.gateway.Reversed("txn_short")
	assert.True(t, reversed)
	assert.Equal(t, int64(900), amount)
	assert.Empty(t, env.db.ledgerFor(b.ID))
	assert.Equal(t, 1, env.db.paymentCount())

	stored, err := env.payments.FindByExternalID(ctx, "txn_short")
	require.NoError(t, err)
	assert.True(t, stored.Returned())
	assert.Equal(t, "captured amount does not match the booking price", stored.RefundReason())

	replay := env.pay(t, b.ID, "txn_short", 900)
	assert.True(t, replay.Replayed)
	assert.True(t, replay.Returned)
	assert.Equal(t, 1, env.db.paymentCount())

	// The returned charge does not block the correct one.
	full := env.pay(t, b.ID, "txn_full", 10000)
	assert.False(t, full.Returned)
	assert.Equal(t, string(booking.StatusConfirmed), full.BookingStatus)
	assert.Len(t, env.db.ledgerFor(b.ID), 2)
}

func TestHandleWebhook_SecondChargeIsReturned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")
	env.pay(t, b.ID, "txn_a", 10000)

	out := env.pay(t, b.ID, "txn_b", 10000)
	assert.True(t, out.Returned)
	assert.Equal(t, string(payment.StatusRefunded), out.PaymentStatus)
	assert.Equal(t, string(booking.StatusConfirmed), out.BookingStatus)
	assert.Equal(t, 2, env.db.paymentCount())

	_, reversed := env.gateway.Reversed("txn_b")
	assert.True(t, reversed)
	_, reversed = env.gateway.Reversed("txn_a")
	assert.False(t, reversed)
	assert.Len(t, env.db.ledgerFor(b.ID), 2)

	settled, err := env.payments.FindByBookingID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "txn_a", settled.ExternalTransactionID())
	assert.Equal(t, payment.StatusSuccessful, settled.Status())
}

func TestHandleWebhook_ReturnedChargeResumesAfterGatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")

	env.gateway.FailReversals(true)
	raw, sig := env.webhook(t, b.ID, "txn_over", 12000, "paid")
	_, err := env.settlement.HandleWebhook(ctx, raw, sig)
	require.Error(t, err)

	stored, err := env.payments.FindByExternalID(ctx, "txn_over")
	require.NoError(t, err, "charge is recorded before it is reversed")
	assert.True(t, stored.Returned())
	assert.Equal(t, payment.StatusSuccessful, stored.Status())

	env.gateway.FailReversals(false)
	out, err := env.settlement.HandleWebhook(ctx, raw, sig)
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, string(payment.StatusRefunded), out.PaymentStatus)
	amount, reversed := env.gateway.Reversed("txn_over")
	assert.True(t, reversed)
	assert.Equal(t, int64(12000), amount)
}

func TestHandleWebhook_LatePaymentIsReversed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")

	env.clock.Advance(time.Hour)
	n, err := env.reservations.ExpireStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out := env.pay(t, b.ID, "txn_late", 10000)
	assert.True(t, out.Returned)
	assert.Equal(t, string(payment.StatusRefunded), out.PaymentStatus)
	assert.Equal(t, string(booking.StatusCancelled), out.BookingStatus)

	amount, reversed := env.gateway.Reversed("txn_late")
	assert.True(t, reversed)
	assert.Equal(t, int64(10000), amount)
	assert.Empty(t, env.db.ledgerFor(b.ID))

	replay := env.pay(t, b.ID, "txn_late", 10000)
	assert.True(t, replay.Replayed)
	assert.Equal(t, 1, env.db.paymentCount())
}

func TestInitiatePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 7500, 2)
	r := renter()
	b := env.admit(t, r, siteID, "2026-06-10", "2026-06-12")

	checkout, err := env.settlement.InitiatePayment(ctx, r, InitiatePaymentRequest{BookingID: b.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, checkout.SessionID)
	assert.Equal(t, int64(15000), checkout.AmountCents)

	_, err = env.settlement.InitiatePayment(ctx, renter(), InitiatePaymentRequest{BookingID: b.ID})
	assert.True(t, domain.IsKind(err, domain.ErrForbidden))

	env.pay(t, b.ID, "txn_init", 15000)
	_, err = env.settlement.InitiatePayment(ctx, r, InitiatePaymentRequest{BookingID: b.ID})
	assert.ErrorIs(t, err, booking.ErrAlreadyPaid)

	other := env.admit(t, r, siteID, "2026-06-10", "2026-06-11")
	_, err = env.reservations.CancelBooking(ctx, r, other.ID, "")
	require.NoError(t, err)
	_, err = env.settlement.InitiatePayment(ctx, r, InitiatePaymentRequest{BookingID: other.ID})
	assert.ErrorIs(t, err, booking.ErrBookingNotPayable)

	got, err := env.reservations.bookings.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status())
}

func TestRefundPayment_BeforePayoutNetsToZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")
	env.pay(t, b.ID, "txn_refund", 10000)

	p, err := env.settlement.RefundPayment(ctx, b.ID, "site flooded")
	require.NoError(t, err)
	assert.Equal(t, string(payment.StatusRefunded), p.Status)
	assert.Equal(t, "site flooded", p.RefundReason)

	entries := env.db.ledgerFor(b.ID)
	assert.Len(t, entries, 4)
	assert.Zero(t, ledger.NetCaptured(entries))
	for _, e := range entries {
		switch e.Kind {
		case ledger.KindCaptureSplit:
			assert.Equal(t, ledger.StatusReversed, e.Status)
		case ledger.KindRefundReversal:
			assert.Equal(t, ledger.StatusCompleted, e.Status)
		}
	}

	got, err := env.reservations.bookings.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status())
	assert.Equal(t, booking.PaymentRefunded, got.PaymentStatus())
	assert.Zero(t, env.db.reserved(siteID, time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)))

	_, err = env.settlement.RefundPayment(ctx, b.ID, "again")
	assert.ErrorIs(t, err, payment.ErrAlreadyRefunded)

	_, err = env.payouts.SettlePayout(ctx, b.ID)
	assert.Error(t, err)
}

func TestRefundPayment_NoPayment(t *testing.T) {
	env := newTestEnv(t)
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")

	_, err := env.settlement.RefundPayment(context.Background(), b.ID, "")
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}

func TestRefundPayment_GatewayFailureCompensates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")
	env.pay(t, b.ID, "txn_flaky", 10000)

	env.gateway.FailReversals(true)
	_, err := env.settlement.RefundPayment(ctx, b.ID, "")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrUpstream))

	assert.Len(t, env.db.ledgerFor(b.ID), 2, "no reversal rows before the gateway accepts")
	p, err := env.payments.FindByBookingID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccessful, p.Status(), "refund aborted")

	env.gateway.FailReversals(false)
	_, err = env.settlement.RefundPayment(ctx, b.ID, "")
	require.NoError(t, err)
	assert.Zero(t, ledger.NetCaptured(env.db.ledgerFor(b.ID)))
}

func TestRefundPayment_ResumesAfterLocalFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	siteID := env.addSite(t, uuid.New(), 10000, 1)
	b := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")
	env.pay(t, b.ID, "txn_resume", 10000)

	env.payments.failFinalize = errors.New("connection reset")
	_, err := env.settlement.RefundPayment(ctx, b.ID, "")
	require.Error(t, err)

	_, reversed := env.gateway.Reversed("txn_resume")
	assert.True(t, reversed)
	assert.Len(t, env.db.ledgerFor(b.ID), 2)
	inFlight, err := env.payments.FindByBookingID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunding, inFlight.Status(), "refund left in flight for resume")

	env.payments.failFinalize = nil
	p, err := env.settlement.RefundPayment(ctx, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, string(payment.StatusRefunded), p.Status)
	assert.Len(t, env.db.ledgerFor(b.ID), 4)
	assert.Zero(t, ledger.NetCaptured(env.db.ledgerFor(b.ID)))
}

func TestListMyPayments(t *testing.T) {
	env := newTestEnv(t)
	siteID := env.addSite(t, uuid.New(), 10000, 3)
	r := renter()
	b1 := env.admit(t, r, siteID, "2026-06-10", "2026-06-11")
	b2 := env.admit(t, r, siteID, "2026-06-11", "2026-06-12")
	b3 := env.admit(t, renter(), siteID, "2026-06-10", "2026-06-11")
	env.pay(t, b1.ID, "txn_1", 10000)
	env.pay(t, b2.ID, "txn_2", 10000)
	env.pay(t, b3.ID, "txn_3", 10000)

	list, total, err := env.settlement.ListMyPayments(context.Background(), r, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, p := range list {
		assert.Equal(t, r.UserID, p.RenterID)
	}
}
