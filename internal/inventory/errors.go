package inventory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockConflict means the product kept changing under us until the
	// retries ran out. It is not a business rejection.
	ErrStockConflict = errors.New("stock update conflict")
)

// StockError is the business rejection for one order line.
type StockError struct {
	ProductID   uuid.UUID
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("Insufficient stock for product: %s", e.ProductName)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }
