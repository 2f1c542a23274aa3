package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated    = "OrderCreated"
	EventPaymentApproved = "PaymentApproved"
	EventOrderExpired    = "OrderExpired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id,omitempty"`
	Total       decimal.Decimal `json:"total"`
	PaymentType PaymentType     `json:"payment_type"`
}

// PaymentApprovedPayload drives worker-side finalization. At-least-once
// delivery is fine: FinalizeOrder is idempotent.
type PaymentApprovedPayload struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type OrderExpiredPayload struct {
	OrderID string `json:"order_id"`
}
