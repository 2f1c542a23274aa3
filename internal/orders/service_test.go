package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpontin/totem-orders/internal/gateway"
	"github.com/mpontin/totem-orders/internal/paycache"
)

type mockRepo struct {
	createFn   func(ctx context.Context, in NewOrder) (*Order, error)
	getFn      func(ctx context.Context, orderID string) (*Order, error)
	getByPayFn func(ctx context.Context, paymentID string) (*Order, error)
	setRefFn   func(ctx context.Context, orderID, paymentID string) error
	finalizeFn func(ctx context.Context, orderID, paymentID string) (*Order, FinalizeOutcome, error)
	expireFn   func(ctx context.Context, orderID string) error
	cancelFn   func(ctx context.Context, orderID string) error
	staleFn    func(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
	flagFn     func(ctx context.Context, paymentID, orderID, reason string, amount decimal.Decimal) error
}

func (m *mockRepo) CreateOrder(ctx context.Context, in NewOrder) (*Order, error) {
	return m.createFn(ctx, in)
}
func (m *mockRepo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return m.getFn(ctx, orderID)
}
func (m *mockRepo) GetOrderByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	return m.getByPayFn(ctx, paymentID)
}
func (m *mockRepo) SetPaymentRef(ctx context.Context, orderID, paymentID string) error {
	return m.setRefFn(ctx, orderID, paymentID)
}
func (m *mockRepo) Finalize(ctx context.Context, orderID, paymentID string) (*Order, FinalizeOutcome, error) {
	return m.finalizeFn(ctx, orderID, paymentID)
}
func (m *mockRepo) Expire(ctx context.Context, orderID string) error { return m.expireFn(ctx, orderID) }
func (m *mockRepo) Cancel(ctx context.Context, orderID string) error { return m.cancelFn(ctx, orderID) }
func (m *mockRepo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Order, error) {
	return m.staleFn(ctx, cutoff, limit)
}
func (m *mockRepo) FlagReconciliation(ctx context.Context, paymentID, orderID, reason string, amount decimal.Decimal) error {
	return m.flagFn(ctx, paymentID, orderID, reason, amount)
}

type mockGateway struct {
	createPixFn  func(ctx context.Context, req gateway.PixRequest) (*gateway.PixPayment, error)
	createCardFn func(ctx context.Context, req gateway.CardRequest) (*gateway.CardPayment, error)
	checkFn      func(ctx context.Context, paymentID string) (*gateway.StatusResult, error)
	cancelFn     func(ctx context.Context, paymentID string) error
	configureFn  func(ctx context.Context, deviceID string) error
	statusFn     func(ctx context.Context, deviceID string) (*gateway.TerminalStatus, error)
	clearFn      func(ctx context.Context, deviceID string) (int, error)
	listFn       func(ctx context.Context, deviceID string) ([]gateway.Intent, error)
	deleteFn     func(ctx context.Context, deviceID, intentID string) error
}

func (m *mockGateway) CreatePixPayment(ctx context.Context, req gateway.PixRequest) (*gateway.PixPayment, error) {
	return m.createPixFn(ctx, req)
}
func (m *mockGateway) CreateCardPayment(ctx context.Context, req gateway.CardRequest) (*gateway.CardPayment, error) {
	return m.createCardFn(ctx, req)
}
func (m *mockGateway) CheckStatus(ctx context.Context, paymentID string) (*gateway.StatusResult, error) {
	return m.checkFn(ctx, paymentID)
}
func (m *mockGateway) CancelPayment(ctx context.Context, paymentID string) error {
	return m.cancelFn(ctx, paymentID)
}
func (m *mockGateway) ConfigureTerminal(ctx context.Context, deviceID string) error {
	return m.configureFn(ctx, deviceID)
}
func (m *mockGateway) GetTerminalStatus(ctx context.Context, deviceID string) (*gateway.TerminalStatus, error) {
	return m.statusFn(ctx, deviceID)
}
func (m *mockGateway) ClearIntentQueue(ctx context.Context, deviceID string) (int, error) {
	return m.clearFn(ctx, deviceID)
}
func (m *mockGateway) ListIntents(ctx context.Context, deviceID string) ([]gateway.Intent, error) {
	return m.listFn(ctx, deviceID)
}
func (m *mockGateway) DeleteIntent(ctx context.Context, deviceID, intentID string) error {
	return m.deleteFn(ctx, deviceID, intentID)
}

type capturedEvent struct {
	key   []byte
	value []byte
}

type mockPublisher struct{ events []capturedEvent }

func (m *mockPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	m.events = append(m.events, capturedEvent{key: key, value: value})
}

func newTestService(repo *mockRepo, gw *mockGateway) *Service {
	return &Service{
		Repo:        repo,
		Gateway:     gw,
		Cache:       paycache.NewMemoryStore(),
		ServiceName: "test",
		Log:         zerolog.Nop(),
	}
}

func strPtr(s string) *string { return &s }

func TestService_CreateOrder_Validation(t *testing.T) {
	svc := newTestService(&mockRepo{}, &mockGateway{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		PaymentType: TypeOnline, PaymentMethod: MethodPix,
	})
	assert.ErrorIs(t, err, ErrValidation, "empty cart")

	_, err = svc.CreateOrder(context.Background(), CreateOrderInput{
		Items:       []CartItem{{ProductID: "p1", Qty: 0}},
		PaymentType: TypeOnline, PaymentMethod: MethodPix,
	})
	assert.ErrorIs(t, err, ErrValidation, "zero quantity")

	_, err = svc.CreateOrder(context.Background(), CreateOrderInput{
		Items:       []CartItem{{ProductID: "p1", Qty: 1}},
		PaymentType: TypePresencial, PaymentMethod: MethodPix,
	})
	assert.ErrorIs(t, err, ErrValidation, "pix is not card-present")
}

func TestService_CreateOrder_InsufficientStockPassesThrough(t *testing.T) {
	repo := &mockRepo{
		createFn: func(ctx context.Context, in NewOrder) (*Order, error) {
			return nil, StockShortage{ProductID: "p1", Requested: 3, Available: 0}
		},
	}
	svc := newTestService(repo, &mockGateway{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Items:       []CartItem{{ProductID: "p1", Qty: 3}},
		PaymentType: TypeOnline, PaymentMethod: MethodPix,
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var shortage StockShortage
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, "p1", shortage.ProductID)
	assert.Equal(t, 0, shortage.Available)
}

func TestService_CreateOrder_PublishesEvent(t *testing.T) {
	repo := &mockRepo{
		createFn: func(ctx context.Context, in NewOrder) (*Order, error) {
			return &Order{ID: "o1", UserID: strPtr("u1"), Total: dec("105.00"), PaymentType: in.Kind.Type()}, nil
		},
	}
	pub := &mockPublisher{}
	svc := newTestService(repo, &mockGateway{})
	svc.ProducerCreated = pub

	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		Items:         []CartItem{{ProductID: "p1", Qty: 1}},
		PaymentType:   TypeOnline,
		PaymentMethod: MethodCredit,
		Installments:  3,
		FeePercent:    dec("5"),
	})
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, []byte(o.ID), pub.events[0].key)
}

func TestService_CheckPaymentStatus_CacheHit(t *testing.T) {
	gw := &mockGateway{
		checkFn: func(ctx context.Context, paymentID string) (*gateway.StatusResult, error) {
			t.Fatal("gateway must not be called on a cache hit")
			return nil, nil
		},
	}
	svc := newTestService(&mockRepo{}, gw)
	require.NoError(t, svc.Cache.Put(context.Background(), "pay_123", paycache.Record{
		Status: string(NormApproved), Amount: dec("50"),
	}))

	v, err := svc.CheckPaymentStatus(context.Background(), "pay_123")
	require.NoError(t, err)
	assert.Equal(t, NormApproved, v.Status)
	assert.True(t, v.Cached)
	assert.True(t, v.Amount.Equal(dec("50")))
}

func TestService_CheckPaymentStatus_CachesApproval(t *testing.T) {
	repo := &mockRepo{
		getByPayFn: func(ctx context.Context, paymentID string) (*Order, error) {
			return nil, ErrNotFound // payment not yet associated, skip finalize
		},
	}
	gw := &mockGateway{
		checkFn: func(ctx context.Context, paymentID string) (*gateway.StatusResult, error) {
			return &gateway.StatusResult{Status: "approved", Amount: dec("42.50")}, nil
		},
	}
	svc := newTestService(repo, gw)

	v, err := svc.CheckPaymentStatus(context.Background(), "pay_9")
	require.NoError(t, err)
	assert.Equal(t, NormApproved, v.Status)
	assert.False(t, v.Cached)

	rec, err := svc.Cache.Get(context.Background(), "pay_9")
	require.NoError(t, err)
	require.NotNil(t, rec, "approval must be cached")
	assert.Equal(t, string(NormApproved), rec.Status)
}

func TestService_CheckPaymentStatus_PendingNotCached(t *testing.T) {
	gw := &mockGateway{
		checkFn: func(ctx context.Context, paymentID string) (*gateway.StatusResult, error) {
			return &gateway.StatusResult{Status: "pending"}, nil
		},
	}
	svc := newTestService(&mockRepo{}, gw)

	v, err := svc.CheckPaymentStatus(context.Background(), "pay_9")
	require.NoError(t, err)
	assert.Equal(t, NormPending, v.Status)

	rec, err := svc.Cache.Get(context.Background(), "pay_9")
	require.NoError(t, err)
	assert.Nil(t, rec, "pending must not be cached")
}

func TestService_CheckPaymentStatus_GatewayDown(t *testing.T) {
	gw := &mockGateway{
		checkFn: func(ctx context.Context, paymentID string) (*gateway.StatusResult, error) {
			return nil, gateway.ErrUnavailable
		},
	}
	svc := newTestService(&mockRepo{}, gw)

	_, err := svc.CheckPaymentStatus(context.Background(), "pay_9")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestService_CheckPaymentStatus_ApprovalTriggersFinalize(t *testing.T) {
	finalized := 0
	order := &Order{ID: "o1", PaymentStatus: PaymentPending, PaymentType: TypeOnline}
	repo := &mockRepo{
		getByPayFn: func(ctx context.Context, paymentID string) (*Order, error) { return order, nil },
		finalizeFn: func(ctx context.Context, orderID, paymentID string) (*Order, FinalizeOutcome, error) {
			finalized++
			done := *order
			done.PaymentStatus = PaymentPaid
			return &done, OutcomeFinalized, nil
		},
	}
	gw := &mockGateway{
		checkFn: func(ctx context.Context, paymentID string) (*gateway.StatusResult, error) {
			return &gateway.StatusResult{Status: "approved", Amount: dec("10")}, nil
		},
	}
	pub := &mockPublisher{}
	svc := newTestService(repo, gw)
	svc.ProducerApproved = pub

	_, err := svc.CheckPaymentStatus(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 1, finalized)
	assert.Len(t, pub.events, 1, "approval event published for the worker")
}

func TestService_FinalizeOrder_Idempotent(t *testing.T) {
	calls := 0
	repo := &mockRepo{
		finalizeFn: func(ctx context.Context, orderID, paymentID string) (*Order, FinalizeOutcome, error) {
			calls++
			if calls == 1 {
				return &Order{ID: orderID, PaymentStatus: PaymentPaid, PaymentType: TypeOnline}, OutcomeFinalized, nil
			}
			return &Order{ID: orderID, PaymentStatus: PaymentPaid, PaymentType: TypeOnline}, OutcomeAlreadyPaid, nil
		},
	}
	svc := newTestService(repo, &mockGateway{})

	require.NoError(t, svc.FinalizeOrder(context.Background(), "o1", "pay_1"))
	require.NoError(t, svc.FinalizeOrder(context.Background(), "o1", "pay_1"), "second call is a no-op")
	assert.Equal(t, 2, calls)
}

func TestService_FinalizeOrder_ConflictFlagsReconciliation(t *testing.T) {
	flagged := false
	repo := &mockRepo{
		finalizeFn: func(ctx context.Context, orderID, paymentID string) (*Order, FinalizeOutcome, error) {
			return &Order{ID: orderID, PaymentStatus: PaymentExpired, Total: dec("80")}, OutcomeConflict, nil
		},
		flagFn: func(ctx context.Context, paymentID, orderID, reason string, amount decimal.Decimal) error {
			flagged = true
			assert.Contains(t, reason, "expired")
			assert.True(t, amount.Equal(dec("80")))
			return nil
		},
	}
	svc := newTestService(repo, &mockGateway{})

	err := svc.FinalizeOrder(context.Background(), "o1", "pay_1")
	assert.ErrorIs(t, err, ErrFinalizationConflict)
	assert.True(t, flagged, "conflict must be queued for manual review")
}

func TestService_FinalizeOrder_UnknownOrder(t *testing.T) {
	repo := &mockRepo{
		finalizeFn: func(ctx context.Context, orderID, paymentID string) (*Order, FinalizeOutcome, error) {
			return nil, 0, ErrNotFound
		},
	}
	svc := newTestService(repo, &mockGateway{})

	err := svc.FinalizeOrder(context.Background(), "ghost", "pay_1")
	assert.ErrorIs(t, err, ErrFinalizationConflict)
}

func TestService_FinalizeOrder_ClearsTerminalQueue(t *testing.T) {
	cleared := false
	repo := &mockRepo{
		finalizeFn: func(ctx context.Context, orderID, paymentID string) (*Order, FinalizeOutcome, error) {
			return &Order{ID: orderID, PaymentStatus: PaymentPaid, PaymentType: TypePresencial}, OutcomeFinalized, nil
		},
	}
	gw := &mockGateway{
		clearFn: func(ctx context.Context, deviceID string) (int, error) {
			cleared = true
			assert.Equal(t, "dev-1", deviceID)
			return 1, nil
		},
	}
	svc := newTestService(repo, gw)
	svc.DeviceID = "dev-1"

	require.NoError(t, svc.FinalizeOrder(context.Background(), "o1", "pay_1"))
	assert.True(t, cleared, "card-present finalize must reset the terminal display")
}

func TestService_InitiateCardPayment_NoDevice(t *testing.T) {
	svc := newTestService(&mockRepo{}, &mockGateway{})
	_, err := svc.InitiateCardPayment(context.Background(), "o1")
	assert.ErrorIs(t, err, ErrDeviceNotConfigured)
}

func TestService_InitiatePixPayment_AssociatesPaymentID(t *testing.T) {
	var gotRef string
	repo := &mockRepo{
		getFn: func(ctx context.Context, orderID string) (*Order, error) {
			return &Order{ID: orderID, PaymentStatus: PaymentPending, Total: dec("25.00")}, nil
		},
		setRefFn: func(ctx context.Context, orderID, paymentID string) error {
			gotRef = paymentID
			return nil
		},
	}
	gw := &mockGateway{
		createPixFn: func(ctx context.Context, req gateway.PixRequest) (*gateway.PixPayment, error) {
			assert.True(t, req.Amount.Equal(dec("25.00")), "must charge the stored total")
			return &gateway.PixPayment{PaymentID: "pay_pix", QRCode: "qrdata"}, nil
		},
	}
	svc := newTestService(repo, gw)

	p, err := svc.InitiatePixPayment(context.Background(), "o1", Payer{Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "pay_pix", p.PaymentID)
	assert.Equal(t, "pay_pix", gotRef)
}

func TestService_InitiatePixPayment_NotPending(t *testing.T) {
	repo := &mockRepo{
		getFn: func(ctx context.Context, orderID string) (*Order, error) {
			return &Order{ID: orderID, PaymentStatus: PaymentExpired}, nil
		},
	}
	svc := newTestService(repo, &mockGateway{})

	_, err := svc.InitiatePixPayment(context.Background(), "o1", Payer{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_ExpireStale_IsolatesFailures(t *testing.T) {
	repo := &mockRepo{
		staleFn: func(ctx context.Context, cutoff time.Time, limit int) ([]Order, error) {
			return []Order{{ID: "o1"}, {ID: "o2"}, {ID: "o3"}}, nil
		},
		expireFn: func(ctx context.Context, orderID string) error {
			switch orderID {
			case "o2":
				return errors.New("db hiccup")
			case "o3":
				return ErrFinalizationConflict // paid during the sweep
			}
			return nil
		},
	}
	pub := &mockPublisher{}
	svc := newTestService(repo, &mockGateway{})
	svc.ProducerExpired = pub

	n, err := svc.ExpireStale(context.Background(), time.Now().Add(-30*time.Minute), 500)
	require.NoError(t, err, "per-order failures must not abort the sweep")
	assert.Equal(t, 1, n)
	assert.Len(t, pub.events, 1)
}

func TestService_CleanupIntents(t *testing.T) {
	deleted := []string{}
	gw := &mockGateway{
		listFn: func(ctx context.Context, deviceID string) ([]gateway.Intent, error) {
			return []gateway.Intent{
				{ID: "i1", State: "FINISHED"},
				{ID: "i2", State: "OPEN"},
				{ID: "i3", State: "CANCELED"},
				{ID: "i4", State: "ERROR"},
			}, nil
		},
		deleteFn: func(ctx context.Context, deviceID, intentID string) error {
			if intentID == "i3" {
				return errors.New("device busy")
			}
			deleted = append(deleted, intentID)
			return nil
		},
	}
	svc := newTestService(&mockRepo{}, gw)
	svc.DeviceID = "dev-1"

	n, err := svc.CleanupIntents(context.Background())
	require.NoError(t, err, "per-intent failures are non-fatal")
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"i1", "i4"}, deleted, "only settled intents are deleted")
}

func TestService_CleanupIntents_NoDevice(t *testing.T) {
	svc := newTestService(&mockRepo{}, &mockGateway{})
	_, err := svc.CleanupIntents(context.Background())
	assert.ErrorIs(t, err, ErrDeviceNotConfigured)
}

func TestService_CancelOrder_CancelsGatewayPayment(t *testing.T) {
	canceledPayment := ""
	repo := &mockRepo{
		getFn: func(ctx context.Context, orderID string) (*Order, error) {
			return &Order{ID: orderID, PaymentStatus: PaymentPending, PaymentID: strPtr("pay_7")}, nil
		},
		cancelFn: func(ctx context.Context, orderID string) error { return nil },
	}
	gw := &mockGateway{
		cancelFn: func(ctx context.Context, paymentID string) error {
			canceledPayment = paymentID
			return nil
		},
	}
	svc := newTestService(repo, gw)

	require.NoError(t, svc.CancelOrder(context.Background(), "o1"))
	assert.Equal(t, "pay_7", canceledPayment)
}
