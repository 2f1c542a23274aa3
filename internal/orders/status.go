package orders

// Status is the coarse order lifecycle. An order closed without payment,
// whether by the expiry sweep or an explicit cancel, ends up expired.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// PaymentStatus moves monotonically out of pending; every other state is
// terminal.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentPaid       PaymentStatus = "paid"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCanceled   PaymentStatus = "canceled"
	PaymentExpired    PaymentStatus = "expired"
)

var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {
		PaymentPaid:       true,
		PaymentAuthorized: true,
		PaymentCanceled:   true,
		PaymentExpired:    true,
	},
	PaymentPaid:       {},
	PaymentAuthorized: {},
	PaymentCanceled:   {},
	PaymentExpired:    {},
}

func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}

// NormalizedStatus is the gateway-facing status vocabulary returned to
// pollers.
type NormalizedStatus string

const (
	NormPending    NormalizedStatus = "pending"
	NormApproved   NormalizedStatus = "approved"
	NormAuthorized NormalizedStatus = "authorized"
	NormCanceled   NormalizedStatus = "canceled"
	NormRejected   NormalizedStatus = "rejected"
	NormError      NormalizedStatus = "error"
)

// Normalize maps raw gateway status strings onto the fixed vocabulary.
// Unknown strings collapse to error rather than pending so a poller
// never spins forever on a status we don't understand.
func Normalize(raw string) NormalizedStatus {
	switch raw {
	case "approved", "accredited":
		return NormApproved
	case "authorized":
		return NormAuthorized
	case "pending", "in_process", "in_mediation":
		return NormPending
	case "cancelled", "canceled":
		return NormCanceled
	case "rejected":
		return NormRejected
	default:
		return NormError
	}
}

// Settled reports whether polling can stop.
func (s NormalizedStatus) Settled() bool { return s != NormPending }
