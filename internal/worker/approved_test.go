package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpontin/totem-orders/internal/orders"
)

type finalizerFunc func(ctx context.Context, orderID, paymentID string) error

func (f finalizerFunc) FinalizeOrder(ctx context.Context, orderID, paymentID string) error {
	return f(ctx, orderID, paymentID)
}

func approvedMessage(t *testing.T, orderID, paymentID string) kafkago.Message {
	t.Helper()
	payload, err := json.Marshal(orders.PaymentApprovedPayload{
		OrderID: orderID, PaymentID: paymentID, Amount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	env, err := json.Marshal(orders.Envelope{
		EventID:   "ev-1",
		EventType: orders.EventPaymentApproved,
		Payload:   payload,
	})
	require.NoError(t, err)
	return kafkago.Message{Value: env}
}

func TestApprovedHandler_Finalizes(t *testing.T) {
	var gotOrder, gotPayment string
	h := &ApprovedHandler{
		Svc: finalizerFunc(func(ctx context.Context, orderID, paymentID string) error {
			gotOrder, gotPayment = orderID, paymentID
			return nil
		}),
		Log: zerolog.Nop(),
	}

	err := h.Handle(context.Background(), approvedMessage(t, "o1", "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, "o1", gotOrder)
	assert.Equal(t, "pay_1", gotPayment)
}

func TestApprovedHandler_IgnoresOtherEvents(t *testing.T) {
	h := &ApprovedHandler{
		Svc: finalizerFunc(func(ctx context.Context, orderID, paymentID string) error {
			t.Fatal("must not finalize on unrelated events")
			return nil
		}),
		Log: zerolog.Nop(),
	}

	env, err := json.Marshal(orders.Envelope{EventID: "ev-2", EventType: orders.EventOrderCreated})
	require.NoError(t, err)
	assert.NoError(t, h.Handle(context.Background(), kafkago.Message{Value: env}))
}

type mapDeduper struct {
	seen map[string]bool
}

func newMapDeduper() *mapDeduper { return &mapDeduper{seen: map[string]bool{}} }

func (d *mapDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	return d.seen[eventID], nil
}

func (d *mapDeduper) Mark(ctx context.Context, eventID string) error {
	d.seen[eventID] = true
	return nil
}

func TestApprovedHandler_RedeliveryRetriesAfterFailure(t *testing.T) {
	calls := 0
	h := &ApprovedHandler{
		Svc: finalizerFunc(func(ctx context.Context, orderID, paymentID string) error {
			calls++
			if calls == 1 {
				return errors.New("db connection reset")
			}
			return nil
		}),
		Dedup: newMapDeduper(),
		Log:   zerolog.Nop(),
	}

	msg := approvedMessage(t, "o1", "pay_1")
	// First delivery fails before the transition lands; the event must
	// stay unmarked so the redelivery reaches the finalizer again.
	require.Error(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, 2, calls, "redelivery must retry finalization; order would stay pending forever otherwise")
}

func TestApprovedHandler_SkipsAlreadySettledEvent(t *testing.T) {
	calls := 0
	h := &ApprovedHandler{
		Svc: finalizerFunc(func(ctx context.Context, orderID, paymentID string) error {
			calls++
			return nil
		}),
		Dedup: newMapDeduper(),
		Log:   zerolog.Nop(),
	}

	msg := approvedMessage(t, "o1", "pay_1")
	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, 1, calls)
}

func TestApprovedHandler_ConflictIsNotRetried(t *testing.T) {
	h := &ApprovedHandler{
		Svc: finalizerFunc(func(ctx context.Context, orderID, paymentID string) error {
			return orders.ErrFinalizationConflict
		}),
		Log: zerolog.Nop(),
	}

	// nil means commit the offset: the conflict is already flagged for
	// manual review, redelivery would change nothing.
	assert.NoError(t, h.Handle(context.Background(), approvedMessage(t, "o1", "pay_1")))
}
