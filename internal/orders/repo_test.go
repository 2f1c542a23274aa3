package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockOrder_SortsByProductID(t *testing.T) {
	in := []CartItem{
		{ProductID: "p3", Qty: 1},
		{ProductID: "p1", Qty: 2},
		{ProductID: "p2", Qty: 3},
	}

	got := lockOrder(in)

	// Two carts sharing products must lock rows in the same sequence
	// regardless of how the client ordered the items.
	assert.Equal(t, []CartItem{
		{ProductID: "p1", Qty: 2},
		{ProductID: "p2", Qty: 3},
		{ProductID: "p3", Qty: 1},
	}, got)
	// Caller's slice is left alone.
	assert.Equal(t, "p3", in[0].ProductID)
}
