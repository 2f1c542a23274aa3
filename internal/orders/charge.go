package orders

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentKind is the tagged union of how an order gets paid. All the
// method/installment branching of the checkout flow funnels through
// ComputeCharge instead of ad hoc percentage math at call sites.
type PaymentKind interface {
	Type() PaymentType
	Method() PaymentMethod
	isPaymentKind()
}

// Pix is an online instant payment. Never carries a surcharge.
type Pix struct{}

func (Pix) Type() PaymentType     { return TypeOnline }
func (Pix) Method() PaymentMethod { return MethodPix }
func (Pix) isPaymentKind()        {}

// Card is an online card payment.
type Card struct {
	CardMethod   PaymentMethod // credit | debit
	Installments int
	FeePercent   decimal.Decimal
}

func (Card) Type() PaymentType       { return TypeOnline }
func (c Card) Method() PaymentMethod { return c.CardMethod }
func (Card) isPaymentKind()          {}

// Presencial is a card payment on the physical terminal.
type Presencial struct {
	CardMethod   PaymentMethod
	Installments int
	FeePercent   decimal.Decimal
}

func (Presencial) Type() PaymentType       { return TypePresencial }
func (p Presencial) Method() PaymentMethod { return p.CardMethod }
func (Presencial) isPaymentKind()          {}

var hundred = decimal.NewFromInt(100)

// ComputeCharge turns a raw cart total into the charged amount. Credit
// with a fee percentage is adjusted by total * (1 + fee/100); everything
// else passes through. Always rounded to 2 decimals; this is the amount
// stored on the order and sent to the gateway.
func ComputeCharge(cartTotal decimal.Decimal, kind PaymentKind) decimal.Decimal {
	fee := feePercent(kind)
	if kind.Method() == MethodCredit && fee.IsPositive() {
		factor := decimal.NewFromInt(1).Add(fee.Div(hundred))
		return cartTotal.Mul(factor).Round(2)
	}
	return cartTotal.Round(2)
}

func feePercent(kind PaymentKind) decimal.Decimal {
	switch k := kind.(type) {
	case Card:
		return k.FeePercent
	case Presencial:
		return k.FeePercent
	default:
		return decimal.Zero
	}
}

func installments(kind PaymentKind) int {
	switch k := kind.(type) {
	case Card:
		return k.Installments
	case Presencial:
		return k.Installments
	default:
		return 1
	}
}

// KindFor builds the union value from wire-level fields.
func KindFor(pt PaymentType, pm PaymentMethod, installmentCount int, fee decimal.Decimal) (PaymentKind, error) {
	if installmentCount < 1 {
		installmentCount = 1
	}
	switch pt {
	case TypeOnline:
		switch pm {
		case MethodPix:
			return Pix{}, nil
		case MethodCredit, MethodDebit:
			return Card{CardMethod: pm, Installments: installmentCount, FeePercent: fee}, nil
		}
	case TypePresencial:
		switch pm {
		case MethodCredit, MethodDebit:
			return Presencial{CardMethod: pm, Installments: installmentCount, FeePercent: fee}, nil
		}
	}
	return nil, fmt.Errorf("%w: payment type %q with method %q", ErrValidation, pt, pm)
}
