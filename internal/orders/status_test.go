package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	terminal := []PaymentStatus{PaymentPaid, PaymentAuthorized, PaymentCanceled, PaymentExpired}

	for _, to := range terminal {
		assert.True(t, CanTransition(PaymentPending, to), "pending -> %s", to)
	}
	// no way out of a terminal state
	for _, from := range terminal {
		for _, to := range append(terminal, PaymentPending) {
			assert.False(t, CanTransition(from, to), "%s -> %s must be blocked", from, to)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want NormalizedStatus
	}{
		{"approved", NormApproved},
		{"accredited", NormApproved},
		{"authorized", NormAuthorized},
		{"pending", NormPending},
		{"in_process", NormPending},
		{"cancelled", NormCanceled},
		{"canceled", NormCanceled},
		{"rejected", NormRejected},
		{"charged_back", NormError},
		{"", NormError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.raw), "raw=%q", tt.raw)
	}
}

func TestSettled(t *testing.T) {
	assert.False(t, NormPending.Settled())
	for _, s := range []NormalizedStatus{NormApproved, NormAuthorized, NormCanceled, NormRejected, NormError} {
		assert.True(t, s.Settled(), "%s should stop the poller", s)
	}
}
