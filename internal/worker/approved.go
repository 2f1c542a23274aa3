package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/mpontin/totem-orders/internal/kafka"
	"github.com/mpontin/totem-orders/internal/orders"
	"github.com/mpontin/totem-orders/internal/redisx"
)

// Finalizer is the slice of the lifecycle engine the consumer needs.
type Finalizer interface {
	FinalizeOrder(ctx context.Context, orderID, paymentID string) error
}

// Deduper remembers which events already settled. An event is marked
// only once finalization landed: a transient failure must leave the
// event retryable on redelivery.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// RedisDeduper keys settled events under dedup:finalizer:{event_id}.
type RedisDeduper struct {
	RDB *redis.Client
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	return redisx.Exists(ctx, d.RDB, fmt.Sprintf(redisx.KeyDedup, "finalizer", eventID))
}

func (d *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	return d.RDB.Set(ctx, fmt.Sprintf(redisx.KeyDedup, "finalizer", eventID), "1", redisx.TTLDedup).Err()
}

// ApprovedHandler consumes payment.approved events and drives
// finalization. Delivery is at-least-once; FinalizeOrder is idempotent,
// the dedup just saves the redundant work.
type ApprovedHandler struct {
	Svc   Finalizer
	Dedup Deduper // nil disables dedup
	Log   zerolog.Logger
}

func (h *ApprovedHandler) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventPaymentApproved {
		return nil
	}

	if h.Dedup != nil {
		if seen, err := h.Dedup.Seen(ctx, env.EventID); err == nil && seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentApprovedPayload](env.Payload)
	if err != nil {
		return err
	}

	err = h.Svc.FinalizeOrder(ctx, p.OrderID, p.PaymentID)
	if errors.Is(err, orders.ErrFinalizationConflict) {
		// Flagged for manual reconciliation; retrying won't change that.
		h.Log.Warn().Str("order_id", p.OrderID).Str("payment_id", p.PaymentID).
			Msg("finalization conflict from event, not retrying")
		h.mark(ctx, env.EventID)
		return nil
	}
	if err != nil {
		return err
	}
	h.mark(ctx, env.EventID)
	return nil
}

// mark is best-effort: a crash between the DB commit and the mark just
// means one redundant idempotent finalize on redelivery.
func (h *ApprovedHandler) mark(ctx context.Context, eventID string) {
	if h.Dedup == nil {
		return
	}
	if err := h.Dedup.Mark(ctx, eventID); err != nil {
		h.Log.Warn().Err(err).Str("event_id", eventID).Msg("dedup mark failed")
	}
}
