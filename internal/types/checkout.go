package types

import (
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/solana"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutStatus string

const (
	StatusPending   CheckoutStatus = "PENDING"
	StatusFound     CheckoutStatus = "FOUND"
	StatusValidated CheckoutStatus = "VALIDATED"
	StatusRejected  CheckoutStatus = "REJECTED"
	StatusExpired   CheckoutStatus = "EXPIRED"
)

var transitions = map[CheckoutStatus][]CheckoutStatus{
	StatusPending: {StatusFound, StatusExpired},
	StatusFound:   {StatusValidated, StatusRejected},
}

func (s CheckoutStatus) IsTerminal() bool {
	return s == StatusValidated || s == StatusRejected || s == StatusExpired
}

// CanTransitionTo reports whether next is a legal successor of s. Staying in
// the same status is always allowed.
func (s CheckoutStatus) CanTransitionTo(next CheckoutStatus) bool {
	if s == next {
		return true
	}
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

func (s CheckoutStatus) String() string {
	return string(s)
}

// Checkout is a checkout attempt as recorded when its transaction was built.
type Checkout struct {
	Reference       solana.PublicKey  `json:"reference"`
	Buyer           solana.PublicKey  `json:"buyer"`
	Merchant        solana.PublicKey  `json:"merchant"`
	Recipient       solana.PublicKey  `json:"recipient"`
	Mint            solana.PublicKey  `json:"mint"`
	Amount          decimal.Decimal   `json:"amount"`
	AmountBaseUnits uint64            `json:"amount_base_units"`
	Coupons         string            `json:"coupons"`
	CouponAmount    uint64            `json:"coupon_amount"`
	Status          CheckoutStatus    `json:"status"`
	Signature       *solana.Signature `json:"signature,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
}

// Redeems reports whether the checkout spends the buyer's coupons.
func (c *Checkout) Redeems() bool {
	return c.Coupons == "redeem"
}

// Receipt is the journal record of a checkout that reached a terminal status.
type Receipt struct {
	ID           uuid.UUID
	Reference    string
	Buyer        string
	Signature    string
	Status       CheckoutStatus
	Amount       decimal.Decimal
	Coupons      string
	CouponAmount uint64
	Reason       string
	CreatedAt    time.Time
}

func NewReceipt(c *Checkout) Receipt {
	r := Receipt{
		ID:           uuid.New(),
		Reference:    c.Reference.String(),
		Buyer:        c.Buyer.String(),
		Status:       c.Status,
		Amount:       c.Amount,
		Coupons:      c.Coupons,
		CouponAmount: c.CouponAmount,
		Reason:       c.Reason,
		CreatedAt:    time.Now().UTC(),
	}
	if c.Signature != nil {
		r.Signature = c.Signature.String()
	}
	return r
}
