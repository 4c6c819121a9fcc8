package application

import (
	"context"
	"errors"
	"time"

	"github.com/campbook/service-reservation/internal/domain/ledger"
	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SettlePayoutRequest is the DTO for paying out a single booking.
type SettlePayoutRequest struct {
	BookingID uuid.UUID `json:"booking_id" binding:"required"`
}

// LedgerEntryDTO is the API response DTO for a ledger entry.
type LedgerEntryDTO struct {
	ID             uuid.UUID  `json:"id"`
	BookingID      uuid.UUID  `json:"booking_id"`
	Payee          string     `json:"payee"`
	PayeeID        *uuid.UUID `json:"payee_id,omitempty"`
	AmountCents    int64      `json:"amount_cents"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	IdempotencyKey string     `json:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"`
}

// LedgerStatsDTO holds ledger balances for the admin dashboard.
type LedgerStatsDTO struct {
	PlatformRevenueCents int64 `json:"platform_revenue_cents"`
	ProviderPendingCents int64 `json:"provider_pending_cents"`
	ProviderPaidCents    int64 `json:"provider_paid_cents"`
	ReversedCents        int64 `json:"reversed_cents"`
	PayoutCount          int64 `json:"payout_count"`
}

// PayoutRunDTO summarises one payout sweep.
type PayoutRunDTO struct {
	Completed int `json:"completed"`
	Settled   int `json:"settled"`
	Skipped   int `json:"skipped"`
}

// LedgerQuery filters the admin ledger listing. Empty fields match everything.
type LedgerQuery struct {
	BookingID string
	Kind      string
	Payee     string
}

// StayCompleter completes stays whose checkout has passed.
type StayCompleter interface {
	CompleteFinishedStays(ctx context.Context) (int, error)
}

// PayoutService releases provider shares for completed stays.
type PayoutService struct {
	ledger    ledger.Repository
	completer StayCompleter
	events    EventPublisher
	now       Clock
	logger    *zap.Logger
}

// NewPayoutService creates a new PayoutService.
func NewPayoutService(repo ledger.Repository, completer StayCompleter, events EventPublisher, now Clock, logger *zap.Logger) *PayoutService {
	if now == nil {
		now = systemClock
	}
	return &PayoutService{ledger: repo, completer: completer, events: events, now: now, logger: logger}
}

// SettlePayout writes the provider payout for one completed, paid booking.
func (s *PayoutService) SettlePayout(ctx context.Context, bookingID uuid.UUID) (*LedgerEntryDTO, error) {
	ctx, span := tracer.Start(ctx, "PayoutService.SettlePayout")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID.String()))

	entry, err := s.ledger.SettlePayout(ctx, bookingID, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("payout settled",
		zap.String("booking_id", bookingID.String()),
		zap.Int64("amount_cents", entry.AmountCents),
	)
	s.events.PayoutSettled(ctx, entry)

	dto := toLedgerEntryDTO(entry)
	return &dto, nil
}

// RunPayouts completes finished stays, then pays out every completed, paid
// booking that has no payout yet. Conflicts on individual bookings are skipped.
func (s *PayoutService) RunPayouts(ctx context.Context) (*PayoutRunDTO, error) {
	run := &PayoutRunDTO{}

	completed, err := s.completer.CompleteFinishedStays(ctx)
	run.Completed = completed
	if err != nil {
		return run, err
	}

	var after *ledger.PayableCursor
	for {
		page, err := s.ledger.FindPayable(ctx, after, sweepBatch)
		if err != nil {
			return run, err
		}
		for _, item := range page {
			if _, err := s.SettlePayout(ctx, item.BookingID); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					s.logger.Warn("payout skipped", zap.String("booking_id", item.BookingID.String()), zap.Error(err))
					run.Skipped++
					continue
				}
				return run, err
			}
			run.Settled++
		}
		if len(page) < sweepBatch {
			return run, nil
		}
		after = page[len(page)-1].Cursor()
	}
}

// ListLedger returns a filtered page of ledger entries.
func (s *PayoutService) ListLedger(ctx context.Context, q LedgerQuery, page, limit int) ([]LedgerEntryDTO, int64, error) {
	var filter ledger.Filter
	if q.BookingID != "" {
		id, err := uuid.Parse(q.BookingID)
		if err != nil {
			return nil, 0, domain.NewValidationError("INVALID_ID", "invalid booking_id")
		}
		filter.BookingID = &id
	}
	if q.Kind != "" {
		k := ledger.Kind(q.Kind)
		filter.Kind = &k
	}
	if q.Payee != "" {
		p := ledger.Payee(q.Payee)
		filter.Payee = &p
	}

	page, limit = pageBounds(page, limit)
	entries, total, err := s.ledger.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	return dtos, total, nil
}

// LedgerStats returns aggregate ledger balances.
func (s *PayoutService) LedgerStats(ctx context.Context) (*LedgerStatsDTO, error) {
	st, err := s.ledger.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &LedgerStatsDTO{
		PlatformRevenueCents: st.PlatformRevenueCents,
		ProviderPendingCents: st.ProviderPendingCents,
		ProviderPaidCents:    st.ProviderPaidCents,
		ReversedCents:        st.ReversedCents,
		PayoutCount:          st.PayoutCount,
	}, nil
}

func toLedgerEntryDTO(e *ledger.Entry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:             e.ID,
		BookingID:      e.BookingID,
		Payee:          string(e.Payee),
		PayeeID:        e.PayeeID,
		AmountCents:    e.AmountCents,
		Kind:           string(e.Kind),
		Status:         string(e.Status),
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt,
	}
}
