package repository

import (
	"errors"

	"github.com/campbook/service-reservation/pkg/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

var (
	errConcurrentBookingUpdate = domain.NewConflictError("CONCURRENT_UPDATE", "booking was modified by another transaction")
	errConcurrentPaymentUpdate = domain.NewConflictError("CONCURRENT_UPDATE", "payment was modified by another transaction")
)

// isUniqueViolation reports whether err is a Postgres unique-constraint failure.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}
