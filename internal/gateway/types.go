package gateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type PixRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	OrderRef    string          `json:"order_ref"`
	PayerName   string          `json:"payer_name,omitempty"`
	PayerEmail  string          `json:"payer_email,omitempty"`
}

type PixPayment struct {
	PaymentID string `json:"id"`
	QRCode    string `json:"qr_code"`
}

type CardRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	OrderRef     string          `json:"order_ref"`
	Method       string          `json:"method"` // credit | debit
	Installments int             `json:"installments"`
	DeviceID     string          `json:"device_id"`
}

type CardPayment struct {
	PaymentID string `json:"id"`
}

// StatusResult keeps the raw gateway body alongside the parsed fields so
// the original payload survives for audit.
type StatusResult struct {
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
	Raw    json.RawMessage `json:"-"`
}

type TerminalStatus struct {
	Connected bool   `json:"connected"`
	Mode      string `json:"mode"`
	Model     string `json:"model"`
}

// Intent is a pending transaction held by the terminal until it is
// confirmed, canceled or errored.
type Intent struct {
	ID    string `json:"id"`
	State string `json:"state"` // OPEN | PROCESSING | FINISHED | CANCELED | ERROR
}
