package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation: malformed/missing request fields. 4xx, never retried.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock: requested quantity exceeds available stock.
	// Surfaced directly, caller must adjust the cart.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDeviceNotConfigured: card-present operation without a terminal id.
	ErrDeviceNotConfigured = errors.New("terminal device not configured")
	// ErrGatewayUnavailable: transient gateway failure, retryable.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrFinalizationConflict: the order state changed concurrently.
	// Flagged for manual reconciliation, never auto-resolved.
	ErrFinalizationConflict = errors.New("finalization conflict")
	// ErrNotFound: unknown order, payment or product id.
	ErrNotFound = errors.New("not found")
)

// StockShortage carries the per-product detail behind ErrInsufficientStock.
type StockShortage struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (s StockShortage) Error() string {
	return fmt.Sprintf("%v: product %s: requested %d, available %d",
		ErrInsufficientStock, s.ProductID, s.Requested, s.Available)
}

func (s StockShortage) Unwrap() error { return ErrInsufficientStock }
