package types

import (
	"testing"

	"github.com/openbuilders/loyalty-checkout/internal/solana"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	legal := [][2]CheckoutStatus{
		{StatusPending, StatusFound},
		{StatusFound, StatusValidated},
		{StatusFound, StatusRejected},
		{StatusPending, StatusExpired},
		{StatusPending, StatusPending},
	}
	for _, tr := range legal {
		assert.True(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}

	illegal := [][2]CheckoutStatus{
		{StatusPending, StatusValidated},
		{StatusPending, StatusRejected},
		{StatusValidated, StatusRejected},
		{StatusRejected, StatusPending},
		{StatusExpired, StatusFound},
		{StatusFound, StatusExpired},
	}
	for _, tr := range illegal {
		assert.False(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusFound.IsTerminal())
	assert.True(t, StatusValidated.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusExpired.IsTerminal())
}

func TestNewReceipt(t *testing.T) {
	sig := solana.Signature{7}
	c := &Checkout{
		Reference:    solana.TokenProgramID,
		Buyer:        solana.AssociatedTokenProgramID,
		Amount:       decimal.RequireFromString("5"),
		Coupons:      "redeem",
		CouponAmount: 5,
		Status:       StatusValidated,
		Signature:    &sig,
	}

	r := NewReceipt(c)
	assert.Equal(t, solana.TokenProgramID.String(), r.Reference)
	assert.Equal(t, sig.String(), r.Signature)
	assert.Equal(t, StatusValidated, r.Status)
	assert.NotEqual(t, [16]byte{}, [16]byte(r.ID))
	assert.True(t, c.Redeems())
}
