package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrDuplicate      = errors.New("duplicate record")
	ErrStatusConflict = errors.New("order status does not allow this change")
	ErrUnavailable    = errors.New("database unavailable")
)

// IsUnavailable reports whether err comes from failing to reach Postgres.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

// StockError reports the product whose stock could not cover a reservation.
type StockError struct {
	ProductID string
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
