// Package paycache stores confirmed-payment records so that duplicate
// pollers and webhooks observing the same approval don't each hit the
// gateway or re-trigger finalization work.
package paycache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TTL is how long a confirmed payment is remembered.
const TTL = time.Hour

// Record is a confirmed-payment snapshot keyed by the gateway payment id.
type Record struct {
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	ObservedAt time.Time       `json:"observed_at"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Store is the cache contract. Get returns (nil, nil) on a miss.
type Store interface {
	Put(ctx context.Context, paymentID string, rec Record) error
	Get(ctx context.Context, paymentID string) (*Record, error)
	Delete(ctx context.Context, paymentID string) error
	// Sweep removes expired entries. A no-op for backends with native TTL.
	Sweep(ctx context.Context, now time.Time) int
}
