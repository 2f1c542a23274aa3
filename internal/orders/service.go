package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/mpontin/totem-orders/internal/gateway"
	kafkax "github.com/mpontin/totem-orders/internal/kafka"
	"github.com/mpontin/totem-orders/internal/paycache"
)

// Repository is the persisted-state contract the engine drives.
type Repository interface {
	CreateOrder(ctx context.Context, in NewOrder) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*Order, error)
	SetPaymentRef(ctx context.Context, orderID, paymentID string) error
	Finalize(ctx context.Context, orderID, paymentID string) (*Order, FinalizeOutcome, error)
	Expire(ctx context.Context, orderID string) error
	Cancel(ctx context.Context, orderID string) error
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
	FlagReconciliation(ctx context.Context, paymentID, orderID, reason string, amount decimal.Decimal) error
}

// Gateway is the payment-processor contract, consumed as a black box.
type Gateway interface {
	CreatePixPayment(ctx context.Context, req gateway.PixRequest) (*gateway.PixPayment, error)
	CreateCardPayment(ctx context.Context, req gateway.CardRequest) (*gateway.CardPayment, error)
	CheckStatus(ctx context.Context, paymentID string) (*gateway.StatusResult, error)
	CancelPayment(ctx context.Context, paymentID string) error
	ConfigureTerminal(ctx context.Context, deviceID string) error
	GetTerminalStatus(ctx context.Context, deviceID string) (*gateway.TerminalStatus, error)
	ClearIntentQueue(ctx context.Context, deviceID string) (int, error)
	ListIntents(ctx context.Context, deviceID string) ([]gateway.Intent, error)
	DeleteIntent(ctx context.Context, deviceID, intentID string) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service is the order lifecycle engine: creation with stock
// reservation, payment initiation, status checks through the confirmed-
// payment cache, and at-most-once finalization.
type Service struct {
	Repo    Repository
	Gateway Gateway
	Cache   paycache.Store
	// Producers are optional; a nil producer just skips the event.
	ProducerCreated  Publisher
	ProducerApproved Publisher
	ProducerExpired  Publisher
	DeviceID         string
	ServiceName      string
	Log              zerolog.Logger
}

type CreateOrderInput struct {
	UserID        *string         `json:"user_id"`
	UserName      string          `json:"user_name"`
	Items         []CartItem      `json:"items"`
	PaymentType   PaymentType     `json:"payment_type"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Installments  int             `json:"installments"`
	FeePercent    decimal.Decimal `json:"fee_percent"`
	Observation   string          `json:"observation"`
}

func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrValidation)
	}
	for _, it := range in.Items {
		if it.ProductID == "" || it.Qty <= 0 {
			return nil, fmt.Errorf("%w: item %q with qty %d", ErrValidation, it.ProductID, it.Qty)
		}
	}
	kind, err := KindFor(in.PaymentType, in.PaymentMethod, in.Installments, in.FeePercent)
	if err != nil {
		return nil, err
	}

	o, err := s.Repo.CreateOrder(ctx, NewOrder{
		UserID:      in.UserID,
		UserName:    in.UserName,
		Items:       in.Items,
		Kind:        kind,
		Observation: in.Observation,
	})
	if err != nil {
		return nil, err
	}

	userID := ""
	if o.UserID != nil {
		userID = *o.UserID
	}
	s.publish(s.ProducerCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID: o.ID, UserID: userID, Total: o.Total, PaymentType: o.PaymentType,
	})
	return o, nil
}

type Payer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// InitiatePixPayment asks the gateway for a PIX charge and associates
// the returned payment id. The order stays pending.
func (s *Service) InitiatePixPayment(ctx context.Context, orderID string, payer Payer) (*gateway.PixPayment, error) {
	o, err := s.pendingOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	p, err := s.Gateway.CreatePixPayment(ctx, gateway.PixRequest{
		Amount:      o.Total,
		Description: "order " + o.ID,
		OrderRef:    o.ID,
		PayerName:   payer.Name,
		PayerEmail:  payer.Email,
	})
	if err != nil {
		return nil, mapGatewayErr(err)
	}
	if err := s.Repo.SetPaymentRef(ctx, o.ID, p.PaymentID); err != nil {
		return nil, err
	}
	return p, nil
}

// InitiateCardPayment pushes a charge to the configured terminal.
func (s *Service) InitiateCardPayment(ctx context.Context, orderID string) (*gateway.CardPayment, error) {
	if s.DeviceID == "" {
		return nil, ErrDeviceNotConfigured
	}
	o, err := s.pendingOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	p, err := s.Gateway.CreateCardPayment(ctx, gateway.CardRequest{
		Amount:       o.Total,
		Description:  "order " + o.ID,
		OrderRef:     o.ID,
		Method:       string(o.PaymentMethod),
		Installments: o.Installments,
		DeviceID:     s.DeviceID,
	})
	if err != nil {
		return nil, mapGatewayErr(err)
	}
	if err := s.Repo.SetPaymentRef(ctx, o.ID, p.PaymentID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) pendingOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != PaymentPending {
		return nil, fmt.Errorf("%w: order %s is %s, not pending", ErrValidation, orderID, o.PaymentStatus)
	}
	return o, nil
}

type PaymentStatusView struct {
	Status NormalizedStatus `json:"status"`
	Amount decimal.Decimal  `json:"amount"`
	Cached bool             `json:"cached"`
}

// CheckPaymentStatus is cache-first: a confirmed payment is answered
// without a gateway round-trip. A fresh approval is cached, published
// for the worker, and finalization is attempted inline (idempotent, so
// poller and worker may both try).
func (s *Service) CheckPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatusView, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: missing payment id", ErrValidation)
	}
	if rec, err := s.Cache.Get(ctx, paymentID); err != nil {
		s.Log.Warn().Err(err).Str("payment_id", paymentID).Msg("payment cache read failed")
	} else if rec != nil {
		return &PaymentStatusView{Status: NormalizedStatus(rec.Status), Amount: rec.Amount, Cached: true}, nil
	}

	res, err := s.Gateway.CheckStatus(ctx, paymentID)
	if err != nil {
		return nil, mapGatewayErr(err)
	}
	ns := Normalize(res.Status)

	if ns == NormApproved || ns == NormAuthorized {
		rec := paycache.Record{
			Status:     string(ns),
			Amount:     res.Amount,
			ObservedAt: time.Now().UTC(),
			Raw:        res.Raw,
		}
		if err := s.Cache.Put(ctx, paymentID, rec); err != nil {
			s.Log.Warn().Err(err).Str("payment_id", paymentID).Msg("payment cache write failed")
		}
	}

	if ns == NormApproved {
		s.onApproved(ctx, paymentID, res.Amount)
	}
	return &PaymentStatusView{Status: ns, Amount: res.Amount}, nil
}

func (s *Service) onApproved(ctx context.Context, paymentID string, amount decimal.Decimal) {
	o, err := s.Repo.GetOrderByPaymentID(ctx, paymentID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.Log.Error().Err(err).Str("payment_id", paymentID).Msg("lookup order for approved payment")
		}
		return
	}
	s.publish(s.ProducerApproved, EventPaymentApproved, o.ID, PaymentApprovedPayload{
		OrderID: o.ID, PaymentID: paymentID, Amount: amount,
	})
	if err := s.FinalizeOrder(ctx, o.ID, paymentID); err != nil {
		s.Log.Warn().Err(err).Str("order_id", o.ID).Str("payment_id", paymentID).Msg("inline finalize failed")
	}
}

// FinalizeOrder is the at-most-once completion step. Safe to call
// redundantly from the poller path and the event consumer: an already
// paid order is a no-op, and an order that left pending some other way
// is flagged for manual reconciliation instead of being overwritten.
func (s *Service) FinalizeOrder(ctx context.Context, orderID, paymentID string) error {
	o, outcome, err := s.Repo.Finalize(ctx, orderID, paymentID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: order %s not found", ErrFinalizationConflict, orderID)
	}
	if err != nil {
		return err
	}

	switch outcome {
	case OutcomeAlreadyPaid:
		return nil
	case OutcomeConflict:
		// The stock hold was already released; a silent finalize here
		// could oversell. Queue it for a human instead.
		reason := fmt.Sprintf("payment approved after order became %s", o.PaymentStatus)
		if ferr := s.Repo.FlagReconciliation(ctx, paymentID, orderID, reason, o.Total); ferr != nil {
			s.Log.Error().Err(ferr).Str("order_id", orderID).Msg("flag reconciliation")
		}
		s.Log.Warn().Str("order_id", orderID).Str("payment_id", paymentID).
			Str("order_state", string(o.PaymentStatus)).Msg("finalization conflict, queued for review")
		return fmt.Errorf("%w: order %s already %s", ErrFinalizationConflict, orderID, o.PaymentStatus)
	}

	if o.PaymentType == TypePresencial && s.DeviceID != "" {
		// Return the terminal display to idle so it doesn't re-offer the
		// payment that just went through.
		if _, err := s.Gateway.ClearIntentQueue(ctx, s.DeviceID); err != nil {
			s.Log.Warn().Err(err).Str("device_id", s.DeviceID).Msg("clear intent queue after finalize")
		}
	}
	s.Log.Info().Str("order_id", orderID).Str("payment_id", paymentID).Msg("order finalized")
	return nil
}

// CancelPayment is a best-effort delegate. It does not release the stock
// reservation; closing the order is CancelOrder's job.
func (s *Service) CancelPayment(ctx context.Context, paymentID string) error {
	if paymentID == "" {
		return fmt.Errorf("%w: missing payment id", ErrValidation)
	}
	if err := s.Gateway.CancelPayment(ctx, paymentID); err != nil {
		return mapGatewayErr(err)
	}
	_ = s.Cache.Delete(ctx, paymentID)
	return nil
}

// CancelOrder transitions a pending order to canceled, releases its
// reservations, and best-effort cancels the gateway payment.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	o, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := s.Repo.Cancel(ctx, orderID); err != nil {
		return err
	}
	if o.PaymentID != nil {
		if err := s.Gateway.CancelPayment(ctx, *o.PaymentID); err != nil {
			s.Log.Warn().Err(err).Str("order_id", orderID).Msg("gateway cancel after order cancel")
		}
	}
	return nil
}

func (s *Service) ConfigureTerminal(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		deviceID = s.DeviceID
	}
	if deviceID == "" {
		return ErrDeviceNotConfigured
	}
	return mapGatewayErr(s.Gateway.ConfigureTerminal(ctx, deviceID))
}

func (s *Service) TerminalStatus(ctx context.Context) (*gateway.TerminalStatus, error) {
	if s.DeviceID == "" {
		return nil, ErrDeviceNotConfigured
	}
	st, err := s.Gateway.GetTerminalStatus(ctx, s.DeviceID)
	if err != nil {
		return nil, mapGatewayErr(err)
	}
	return st, nil
}

func (s *Service) ClearIntentQueue(ctx context.Context) (int, error) {
	if s.DeviceID == "" {
		return 0, ErrDeviceNotConfigured
	}
	n, err := s.Gateway.ClearIntentQueue(ctx, s.DeviceID)
	if err != nil {
		return 0, mapGatewayErr(err)
	}
	return n, nil
}

// ExpireStale sweeps pending orders older than the cutoff. Orders are
// processed independently: one failure never aborts the rest.
func (s *Service) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.Repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, o := range stale {
		if err := s.Repo.Expire(ctx, o.ID); err != nil {
			if errors.Is(err, ErrFinalizationConflict) {
				// Paid (or canceled) between the select and the lock.
				s.Log.Debug().Str("order_id", o.ID).Msg("skip expiry, order settled concurrently")
				continue
			}
			s.Log.Error().Err(err).Str("order_id", o.ID).Msg("expire order")
			continue
		}
		expired++
		s.publish(s.ProducerExpired, EventOrderExpired, o.ID, OrderExpiredPayload{OrderID: o.ID})
	}
	return expired, nil
}

// CleanupIntents deletes settled payment intents from the terminal so
// stale entries don't accumulate on the device. Per-intent failures are
// logged and skipped.
func (s *Service) CleanupIntents(ctx context.Context) (int, error) {
	if s.DeviceID == "" {
		return 0, ErrDeviceNotConfigured
	}
	intents, err := s.Gateway.ListIntents(ctx, s.DeviceID)
	if err != nil {
		return 0, mapGatewayErr(err)
	}
	deleted := 0
	for _, it := range intents {
		switch it.State {
		case "FINISHED", "CANCELED", "ERROR":
			if err := s.Gateway.DeleteIntent(ctx, s.DeviceID, it.ID); err != nil {
				s.Log.Warn().Err(err).Str("intent_id", it.ID).Msg("delete payment intent")
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

func (s *Service) publish(p Publisher, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func mapGatewayErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	case errors.Is(err, gateway.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return err
	}
}
