package redisx

import "time"

const (
	// Confirmed-payment record: payment:confirmed:{payment_id} -> JSON record
	KeyPaymentConfirmed = "payment:confirmed:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id)
	KeyDedup = "dedup:%s:%s"
)

var (
	// TTLPaymentConfirmed bounds how long a confirmed payment is remembered
	// to short-circuit duplicate pollers/webhooks.
	TTLPaymentConfirmed = time.Hour
	TTLDedup            = 48 * time.Hour
)
