package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

// NewOrder is the creation input: quantities from the client, prices
// resolved from product rows inside the transaction.
type NewOrder struct {
	UserID      *string
	UserName    string
	Items       []CartItem
	Kind        PaymentKind
	Observation string
}

// CreateOrder reserves stock and inserts the order row in one
// transaction: either every line item gets its hold and the row exists,
// or nothing changed. Products with NULL stock are unlimited and their
// counters are never touched.
func (r *Repo) CreateOrder(ctx context.Context, in NewOrder) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	items := make([]OrderItem, 0, len(in.Items))
	cartTotal := decimal.Zero

	for _, it := range lockOrder(in.Items) {
		var (
			name string
			p    Product
		)
		err := tx.QueryRow(ctx, `
			SELECT name, price, stock, stock_reserved
			FROM products WHERE id = $1 FOR UPDATE`, it.ProductID).
			Scan(&name, &p.Price, &p.Stock, &p.StockReserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, it.ProductID)
		}
		if err != nil {
			return nil, err
		}

		if !p.Unlimited() {
			if it.Qty > p.Available() {
				return nil, StockShortage{ProductID: it.ProductID, Requested: it.Qty, Available: p.Available()}
			}
			if _, err := tx.Exec(ctx, `
				UPDATE products
				SET stock_reserved = stock_reserved + $2, updated_at = now()
				WHERE id = $1`, it.ProductID, it.Qty); err != nil {
				return nil, err
			}
		}

		items = append(items, OrderItem{ProductID: it.ProductID, Name: name, UnitPrice: p.Price, Qty: it.Qty})
		cartTotal = cartTotal.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Qty))))
	}

	o := &Order{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		UserName:      in.UserName,
		Items:         items,
		Total:         ComputeCharge(cartTotal, in.Kind),
		Status:        StatusActive,
		PaymentStatus: PaymentPending,
		PaymentType:   in.Kind.Type(),
		PaymentMethod: in.Kind.Method(),
		Installments:  installments(in.Kind),
		Fee:           feePercent(in.Kind),
		Observation:   in.Observation,
		CreatedAt:     time.Now().UTC(),
	}

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, user_name, items, total, status, payment_status,
		                    payment_type, payment_method, installments, fee, observation, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.UserID, o.UserName, itemsJSON, o.Total, o.Status, o.PaymentStatus,
		o.PaymentType, o.PaymentMethod, o.Installments, o.Fee, o.Observation, o.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// lockOrder copies the cart sorted by product id. Every creation
// transaction then takes its row locks in the same order, so two carts
// sharing products cannot deadlock each other.
func lockOrder(items []CartItem) []CartItem {
	out := append([]CartItem(nil), items...)
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

const orderColumns = `id, user_id, user_name, items, total, status, payment_status,
	payment_id, payment_type, payment_method, installments, fee, observation,
	created_at, completed_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o         Order
		itemsJSON []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &o.UserName, &itemsJSON, &o.Total, &o.Status,
		&o.PaymentStatus, &o.PaymentID, &o.PaymentType, &o.PaymentMethod,
		&o.Installments, &o.Fee, &o.Observation, &o.CreatedAt, &o.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	return &o, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
}

func (r *Repo) GetOrderByPaymentID(ctx context.Context, paymentID string) (*Order, error) {
	return scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_id = $1`, paymentID))
}

// SetPaymentRef associates the external payment id while the order is
// still pending. Initiating a payment does not change the order status.
func (r *Repo) SetPaymentRef(ctx context.Context, orderID, paymentID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_id = $2
		WHERE id = $1 AND payment_status = 'pending'`, orderID, paymentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: pending order %s", ErrNotFound, orderID)
	}
	return nil
}

type FinalizeOutcome int

const (
	OutcomeFinalized FinalizeOutcome = iota
	OutcomeAlreadyPaid
	OutcomeConflict
)

// Finalize flips a pending order to paid. The row is locked and the
// transition applied only if payment_status is still pending: a CAS, not
// a blind overwrite, so a racing expiry sweep can never be overwritten.
// On success stock and stock_reserved are decremented symmetrically (the
// permanent deduction happens here, not at creation) and the order is
// appended to the user's history, at most once.
func (r *Repo) Finalize(ctx context.Context, orderID, paymentID string) (*Order, FinalizeOutcome, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, 0, err
	}

	switch {
	case o.PaymentStatus == PaymentPaid:
		return o, OutcomeAlreadyPaid, nil
	case !CanTransition(o.PaymentStatus, PaymentPaid):
		return o, OutcomeConflict, nil
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE orders
		SET payment_status = 'paid', status = 'completed', payment_id = $2, completed_at = $3
		WHERE id = $1 AND payment_status = 'pending'`, orderID, paymentID, now); err != nil {
		return nil, 0, err
	}

	for _, it := range o.Items {
		// Unlimited products were never reserved; rows deleted since
		// creation simply match nothing.
		if _, err := tx.Exec(ctx, `
			UPDATE products
			SET stock = GREATEST(stock - $2, 0),
			    stock_reserved = GREATEST(stock_reserved - $2, 0),
			    updated_at = now()
			WHERE id = $1 AND stock IS NOT NULL`, it.ProductID, it.Qty); err != nil {
			return nil, 0, err
		}
	}

	if o.UserID != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_order_history (user_id, order_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, *o.UserID, orderID); err != nil {
			return nil, 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	o.PaymentStatus = PaymentPaid
	o.Status = StatusCompleted
	o.PaymentID = &paymentID
	o.CompletedAt = &now
	return o, OutcomeFinalized, nil
}

// Expire closes a stale pending order and releases its reservations.
func (r *Repo) Expire(ctx context.Context, orderID string) error {
	return r.closePending(ctx, orderID, PaymentExpired)
}

// Cancel closes a pending order on explicit request.
func (r *Repo) Cancel(ctx context.Context, orderID string) error {
	return r.closePending(ctx, orderID, PaymentCanceled)
}

func (r *Repo) closePending(ctx context.Context, orderID string, to PaymentStatus) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return err
	}
	if !CanTransition(o.PaymentStatus, to) {
		// Already settled by a racing finalize or an earlier sweep.
		return fmt.Errorf("%w: order %s is %s", ErrFinalizationConflict, orderID, o.PaymentStatus)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET payment_status = $2, status = 'expired'
		WHERE id = $1 AND payment_status = 'pending'`, orderID, to); err != nil {
		return err
	}

	for _, it := range o.Items {
		// Floored at 0; a product row deleted since creation is a
		// partial release and tolerated.
		if _, err := tx.Exec(ctx, `
			UPDATE products
			SET stock_reserved = GREATEST(stock_reserved - $2, 0), updated_at = now()
			WHERE id = $1 AND stock IS NOT NULL`, it.ProductID, it.Qty); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListStalePending returns pending orders created before the cutoff.
func (r *Repo) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE payment_status = 'pending' AND created_at < $1
		ORDER BY created_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// FlagReconciliation records a payment that arrived after its order left
// the pending state. Idempotent per (payment, order).
func (r *Repo) FlagReconciliation(ctx context.Context, paymentID, orderID, reason string, amount decimal.Decimal) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payment_reconciliations (payment_id, order_id, reason, amount)
		VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`, paymentID, orderID, reason, amount)
	return err
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	return r.queryProducts(ctx, `
		SELECT id, name, category, price, price_raw, stock, stock_reserved, min_stock, created_at, updated_at
		FROM products ORDER BY name`)
}

// ListLowStock returns tracked products at or under their alert threshold.
func (r *Repo) ListLowStock(ctx context.Context) ([]Product, error) {
	return r.queryProducts(ctx, `
		SELECT id, name, category, price, price_raw, stock, stock_reserved, min_stock, created_at, updated_at
		FROM products
		WHERE stock IS NOT NULL AND GREATEST(stock - stock_reserved, 0) <= min_stock
		ORDER BY name`)
}

func (r *Repo) queryProducts(ctx context.Context, sql string) ([]Product, error) {
	rows, err := r.DB.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.PriceRaw,
			&p.Stock, &p.StockReserved, &p.MinStock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
