package service

import (
	"errors"
	"fmt"
)

// Checkout failure taxonomy. Handlers translate these into user-facing
// responses; the underlying backend errors are logged, never shown.
var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrCheckoutInProgress   = errors.New("a checkout for this cart is already in progress")
	ErrOrderCreationFailed  = errors.New("failed to create order")
	ErrOrderItemsFailed     = errors.New("failed to create order items")
	ErrStockUpdateFailed    = errors.New("failed to update product stock")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
)

// InsufficientStockError is returned by cart mutations whose requested
// quantity exceeds the product's currently known stock. Available carries the
// remaining stock for user feedback.
type InsufficientStockError struct {
	ProductName string
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("only %d of %s available in stock", e.Available, e.ProductName)
}

// OutOfStockError aborts a checkout whose pre-flight stock check found a line
// item exceeding live stock. No writes have occurred when it is returned.
type OutOfStockError struct {
	ProductName string
	Available   int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("%s is out of stock, only %d available", e.ProductName, e.Available)
}
