package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	TypePresencial PaymentType = "presencial" // card-present terminal
	TypeOnline     PaymentType = "online"     // PIX or hosted checkout
)

type PaymentMethod string

const (
	MethodCredit PaymentMethod = "credit"
	MethodDebit  PaymentMethod = "debit"
	MethodPix    PaymentMethod = "pix"
)

// OrderItem is a line-item snapshot: name and unit price are copied at
// order time so later product edits don't rewrite history.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty"`
}

type Order struct {
	ID            string          `json:"id"`
	UserID        *string         `json:"user_id"` // nullable: user may be deleted
	UserName      string          `json:"user_name"`
	Items         []OrderItem     `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentID     *string         `json:"payment_id"` // string or null, never an object
	PaymentType   PaymentType     `json:"payment_type"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Installments  int             `json:"installments"`
	Fee           decimal.Decimal `json:"fee"` // surcharge percent for installment credit
	Observation   string          `json:"observation,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	PriceRaw      decimal.Decimal `json:"price_raw"` // cost basis
	Stock         *int            `json:"stock"`     // nil = unlimited
	StockReserved int             `json:"stock_reserved"`
	MinStock      int             `json:"min_stock"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Unlimited reports whether the product has no stock tracking at all.
func (p Product) Unlimited() bool { return p.Stock == nil }

// Available is stock minus reservations, floored at zero. Meaningless
// for unlimited products.
func (p Product) Available() int {
	if p.Stock == nil {
		return 0
	}
	if a := *p.Stock - p.StockReserved; a > 0 {
		return a
	}
	return 0
}

// CartItem is what the storefront sends: quantities only, prices come
// from the product rows inside the creation transaction.
type CartItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}
