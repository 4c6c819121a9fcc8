package application

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campbook/service-reservation/internal/domain/booking"
	"github.com/campbook/service-reservation/internal/domain/ledger"
	"github.com/campbook/service-reservation/internal/domain/payment"
	"github.com/campbook/service-reservation/internal/domain/site"
	"github.com/google/uuid"
)

// memDB is an in-memory stand-in for Postgres. Every repository call holds
// the mutex for its whole body, which gives the same all-or-nothing behaviour
// as the SQL transactions.
type memDB struct {
	mu       sync.Mutex
	sites    map[uuid.UUID]*site.Site
	bookings map[uuid.UUID]*booking.Booking
	nights   map[nightKey]*booking.NightCapacity
	payments map[uuid.UUID]*payment.Payment
	entries  []*ledger.Entry
}

type nightKey struct {
	site  uuid.UUID
	night time.Time
}

func newMemDB() *memDB {
	return &memDB{
		sites:    make(map[uuid.UUID]*site.Site),
		bookings: make(map[uuid.UUID]*booking.Booking),
		nights:   make(map[nightKey]*booking.NightCapacity),
		payments: make(map[uuid.UUID]*payment.Payment),
	}
}

func cloneBooking(b *booking.Booking) *booking.Booking {
	return booking.Reconstitute(b.ID(), b.SiteID(), b.ProviderID(), b.RenterID(),
		b.CheckIn(), b.CheckOut(), b.TotalPriceCents(), b.Currency(),
		b.Status(), b.PaymentStatus(), b.CancelReason(), b.Version(),
		b.CreatedAt(), b.UpdatedAt())
}

func clonePayment(p *payment.Payment) *payment.Payment {
	return payment.Reconstitute(p.ID(), p.ExternalTransactionID(), p.BookingID(), p.RenterID(),
		p.AmountCents(), p.Currency(), p.Method(), p.Status(), p.Returned(), p.RefundedAt(), p.RefundReason(),
		p.Version(), p.CreatedAt(), p.UpdatedAt())
}

func cloneEntry(e *ledger.Entry) *ledger.Entry {
	c := *e
	return &c
}

func (db *memDB) release(b *booking.Booking) {
	for _, n := range b.Nights() {
		if row, ok := db.nights[nightKey{b.SiteID(), n}]; ok && row.Reserved > 0 {
			row.Reserved--
		}
	}
}

func (db *memDB) entriesFor(bookingID uuid.UUID) []*ledger.Entry {
	var out []*ledger.Entry
	for _, e := range db.entries {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out
}

func (db *memDB) insertEntries(entries []*ledger.Entry) int {
	inserted := 0
	for _, e := range entries {
		if db.hasKey(e.IdempotencyKey) {
			continue
		}
		db.entries = append(db.entries, cloneEntry(e))
		inserted++
	}
	return inserted
}

func (db *memDB) hasKey(key string) bool {
	for _, e := range db.entries {
		if e.IdempotencyKey == key {
			return true
		}
	}
	return false
}

func (db *memDB) paymentFor(bookingID uuid.UUID) *payment.Payment {
	for _, p := range db.payments {
		if p.BookingID() == bookingID && !p.Returned() {
			return p
		}
	}
	return nil
}

func (db *memDB) reserved(siteID uuid.UUID, night time.Time) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if row, ok := db.nights[nightKey{siteID, booking.Day(night)}]; ok {
		return row.Reserved
	}
	return 0
}

func (db *memDB) ledgerFor(bookingID uuid.UUID) []*ledger.Entry {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*ledger.Entry
	for _, e := range db.entriesFor(bookingID) {
		out = append(out, cloneEntry(e))
	}
	return out
}

func (db *memDB) paymentCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.payments)
}

// --- sites ---

type memSites struct{ db *memDB }

func (r memSites) FindByID(_ context.Context, id uuid.UUID) (*site.Site, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sites[id]
	if !ok {
		return nil, site.ErrSiteNotFound
	}
	return s, nil
}

func (r memSites) Upsert(_ context.Context, s *site.Site) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.sites[s.ID()] = s
	today := booking.Day(time.Now())
	for k, row := range r.db.nights {
		if k.site == s.ID() && !k.night.Before(today) {
			row.Cap = s.MaxBookingsPerNight()
			if row.Cap < row.Reserved {
				row.Cap = row.Reserved
			}
		}
	}
	return nil
}

// --- bookings ---

type memBookings struct{ db *memDB }

func (r memBookings) Admit(_ context.Context, st booking.Site, checkIn, checkOut time.Time, build booking.BuildFunc) (*booking.Booking, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	nights := booking.NightsBetween(checkIn, checkOut)
	if len(nights) == 0 {
		return nil, booking.ErrInvalidRange
	}
	peak := 0
	for _, n := range nights {
		row, ok := r.db.nights[nightKey{st.ID, n}]
		if !ok {
			continue
		}
		if row.Reserved >= row.Cap {
			return nil, booking.ErrCapacityExceeded
		}
		if pct := row.Reserved * 100 / row.Cap; pct > peak {
			peak = pct
		}
	}

	b, err := build(peak)
	if err != nil {
		return nil, err
	}
	for _, n := range nights {
		k := nightKey{st.ID, n}
		row, ok := r.db.nights[k]
		if !ok {
			row = &booking.NightCapacity{Night: n, Cap: st.NightlyCap}
			r.db.nights[k] = row
		}
		row.Reserved++
	}
	r.db.bookings[b.ID()] = cloneBooking(b)
	return b, nil
}

func (r memBookings) FindByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return cloneBooking(b), nil
}

func (r memBookings) List(_ context.Context, f booking.ListFilter, page, limit int) ([]*booking.Booking, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var all []*booking.Booking
	for _, b := range r.db.bookings {
		if f.RenterID != nil && b.RenterID() != *f.RenterID {
			continue
		}
		if f.ProviderID != nil && b.ProviderID() != *f.ProviderID {
			continue
		}
		if f.Status != nil && b.Status() != *f.Status {
			continue
		}
		all = append(all, cloneBooking(b))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt().After(all[j].CreatedAt()) })
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r memBookings) Cancel(_ context.Context, id uuid.UUID, g booking.CancelGuard) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.bookings[id]
	if !ok {
		return false, booking.ErrBookingNotFound
	}
	if !g.Allows(b) || !b.Cancel(g.Reason) {
		return false, nil
	}
	r.db.release(b)
	return true, nil
}

func (r memBookings) FindStalePending(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var ids []uuid.UUID
	for id, b := range r.db.bookings {
		if b.Status() == booking.StatusPending && b.PaymentStatus() == booking.PaymentUnpaid && b.CreatedAt().Before(cutoff) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (r memBookings) Complete(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.bookings[id]
	if !ok {
		return false, booking.ErrBookingNotFound
	}
	return b.Complete(now) == nil, nil
}

func (r memBookings) FindFinishedStays(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var ids []uuid.UUID
	for id, b := range r.db.bookings {
		if b.Status() == booking.StatusConfirmed && b.PaymentStatus() == booking.PaymentPaid && !b.CheckOut().After(booking.Day(now)) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (r memBookings) Occupancy(_ context.Context, siteID uuid.UUID, nights []time.Time) ([]booking.NightCapacity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []booking.NightCapacity
	for _, n := range nights {
		if row, ok := r.db.nights[nightKey{siteID, booking.Day(n)}]; ok {
			out = append(out, *row)
		}
	}
	return out, nil
}

// --- payments ---

type memPayments struct {
	db           *memDB
	failFinalize error
}

func (r *memPayments) FindByExternalID(_ context.Context, ext string) (*payment.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.payments {
		if p.ExternalTransactionID() == ext {
			return clonePayment(p), nil
		}
	}
	return nil, payment.ErrPaymentNotFound
}

func (r *memPayments) FindByBookingID(_ context.Context, bookingID uuid.UUID) (*payment.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if p := r.db.paymentFor(bookingID); p != nil {
		return clonePayment(p), nil
	}
	return nil, payment.ErrPaymentNotFound
}

func (r *memPayments) ListByRenter(_ context.Context, renterID uuid.UUID, page, limit int) ([]*payment.Payment, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*payment.Payment
	for _, p := range r.db.payments {
		if p.RenterID() == renterID {
			out = append(out, clonePayment(p))
		}
	}
	total := int64(len(out))
	start := (page - 1) * limit
	if start > len(out) {
		start = len(out)
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *memPayments) Capture(_ context.Context, cmd payment.CaptureCommand) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p := cmd.Payment
	for _, existing := range r.db.payments {
		if existing.ExternalTransactionID() == p.ExternalTransactionID() {
			return payment.ErrDuplicatePayment
		}
		if !p.Returned() && !existing.Returned() && existing.BookingID() == p.BookingID() {
			return payment.ErrDuplicatePayment
		}
	}
	b := r.db.bookings[p.BookingID()]
	if cmd.ConfirmBooking {
		if b == nil || b.Confirm() != nil {
			return booking.ErrBookingNotPending
		}
	}
	r.db.payments[p.ID()] = clonePayment(p)
	r.db.insertEntries(cmd.Entries)
	return nil
}

func (r *memPayments) ConvergeCapture(_ context.Context, bookingID uuid.UUID, entries []*ledger.Entry) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	changed := false
	if b := r.db.bookings[bookingID]; b != nil && b.Status() == booking.StatusPending {
		changed = b.Confirm() == nil
	}
	if r.db.insertEntries(entries) > 0 {
		changed = true
	}
	return changed, nil
}

func (r *memPayments) MarkChargeReturned(_ context.Context, paymentID uuid.UUID, reason string, now time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if p, ok := r.db.payments[paymentID]; ok && p.Returned() && p.Status() == payment.StatusSuccessful {
		return p.Refund(reason, now)
	}
	return nil
}

func (r *memPayments) PrepareRefund(_ context.Context, bookingID uuid.UUID, now time.Time) (payment.RefundPlan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.bookings[bookingID]; !ok {
		return payment.RefundPlan{}, booking.ErrBookingNotFound
	}
	p := r.db.paymentFor(bookingID)
	if p == nil {
		return payment.RefundPlan{}, payment.ErrPaymentNotFound
	}
	if err := p.CheckRefundable(); err != nil {
		return payment.RefundPlan{}, err
	}
	if ledger.HasKind(r.db.entriesFor(bookingID), ledger.KindPayout) {
		return payment.RefundPlan{}, ledger.ErrPayoutAlreadySettled
	}
	started, err := p.BeginRefund(now)
	if err != nil {
		return payment.RefundPlan{}, err
	}
	return payment.RefundPlan{Payment: clonePayment(p), Created: started}, nil
}

func (r *memPayments) AbortRefund(_ context.Context, bookingID uuid.UUID, now time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if p := r.db.paymentFor(bookingID); p != nil {
		p.AbortRefund(now)
	}
	return nil
}

func (r *memPayments) FinalizeRefund(_ context.Context, bookingID uuid.UUID, reason string, now time.Time) (*payment.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.failFinalize != nil {
		return nil, r.failFinalize
	}
	b, ok := r.db.bookings[bookingID]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	stored := r.db.paymentFor(bookingID)
	if stored == nil {
		return nil, payment.ErrPaymentNotFound
	}
	p := clonePayment(stored)
	if err := p.Refund(reason, now); err != nil {
		return nil, err
	}
	wasLive := b.HoldsCapacity()
	nb := cloneBooking(b)
	if err := nb.MarkRefunded(reason); err != nil {
		return nil, err
	}

	r.db.payments[p.ID()] = clonePayment(p)
	r.db.insertEntries(ledger.ReversalsFor(r.db.entriesFor(bookingID), ledger.StatusCompleted, now))
	for _, e := range r.db.entriesFor(bookingID) {
		if e.Kind == ledger.KindCaptureSplit {
			e.Status = ledger.StatusReversed
		}
	}
	r.db.bookings[bookingID] = nb
	if wasLive {
		r.db.release(nb)
	}
	return p, nil
}

// --- ledger ---

type memLedger struct{ db *memDB }

func (r memLedger) List(_ context.Context, f ledger.Filter, page, limit int) ([]*ledger.Entry, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*ledger.Entry
	for _, e := range r.db.entries {
		if f.BookingID != nil && e.BookingID != *f.BookingID {
			continue
		}
		if f.Kind != nil && e.Kind != *f.Kind {
			continue
		}
		if f.Payee != nil && e.Payee != *f.Payee {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	total := int64(len(out))
	start := (page - 1) * limit
	if start > len(out) {
		start = len(out)
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r memLedger) Stats(_ context.Context) (ledger.Stats, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var st ledger.Stats
	for _, e := range r.db.entries {
		switch {
		case e.Kind == ledger.KindPayout:
			st.ProviderPaidCents += e.AmountCents
			st.PayoutCount++
		case e.Kind == ledger.KindRefundReversal:
			st.ReversedCents -= e.AmountCents
			if e.Payee == ledger.PayeePlatform {
				st.PlatformRevenueCents += e.AmountCents
			}
		case e.Payee == ledger.PayeePlatform:
			st.PlatformRevenueCents += e.AmountCents
		case e.Status == ledger.StatusPending:
			st.ProviderPendingCents += e.AmountCents
		}
	}
	return st, nil
}

func (r memLedger) SettlePayout(_ context.Context, bookingID uuid.UUID, now time.Time) (*ledger.Entry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.bookings[bookingID]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	if b.Status() != booking.StatusCompleted {
		return nil, booking.ErrBookingNotCompleted
	}
	if b.PaymentStatus() != booking.PaymentPaid {
		return nil, booking.ErrBookingNotPaid
	}
	if p := r.db.paymentFor(bookingID); p != nil && p.Status() == payment.StatusRefunding {
		return nil, ledger.ErrRefundInProgress
	}
	entries := r.db.entriesFor(bookingID)
	payout, err := ledger.PayoutFor(entries, now)
	if err != nil {
		return nil, err
	}
	if r.db.hasKey(payout.IdempotencyKey) {
		return nil, ledger.ErrPayoutAlreadySettled
	}
	r.db.insertEntries([]*ledger.Entry{payout})
	for _, e := range entries {
		if e.Kind == ledger.KindCaptureSplit && e.Status == ledger.StatusPending {
			e.Status = ledger.StatusCompleted
		}
	}
	return payout, nil
}

func (r memLedger) FindPayable(_ context.Context, after *ledger.PayableCursor, limit int) ([]ledger.Payable, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var all []ledger.Payable
	for id, b := range r.db.bookings {
		if b.Status() != booking.StatusCompleted || b.PaymentStatus() != booking.PaymentPaid {
			continue
		}
		if ledger.HasKind(r.db.entriesFor(id), ledger.KindPayout) {
			continue
		}
		if p := r.db.paymentFor(id); p != nil && p.Status() == payment.StatusRefunding {
			continue
		}
		all = append(all, ledger.Payable{BookingID: id, UpdatedAt: b.UpdatedAt()})
	}
	sort.Slice(all, func(i, j int) bool { return payableBefore(all[i], all[j]) })

	var out []ledger.Payable
	for _, item := range all {
		if after != nil && !payableBefore(ledger.Payable{BookingID: after.BookingID, UpdatedAt: after.UpdatedAt}, item) {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func payableBefore(a, b ledger.Payable) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return bytes.Compare(a.BookingID[:], b.BookingID[:]) < 0
}
