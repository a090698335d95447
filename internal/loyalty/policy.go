// Package loyalty decides how coupon tokens move for a purchase.
package loyalty

import (
	"github.com/shopspring/decimal"
)

const (
	// RedemptionThreshold is the number of coupons that buys a discount.
	RedemptionThreshold = 5
	// IssueAmount is the number of coupons issued per regular purchase.
	IssueAmount = 1
	// DisplayCap is the number of coupon slots shown to the buyer.
	DisplayCap = 5
)

type Kind int

const (
	// Issue moves coupons from the shop to the buyer.
	Issue Kind = iota
	// Redeem moves coupons from the buyer back to the shop for a discount.
	Redeem
)

type Direction string

const (
	BuyerToShop Direction = "buyer_to_shop"
	ShopToBuyer Direction = "shop_to_buyer"
)

// Action is the outcome of evaluating the policy: either Issue(n) or Redeem(n).
type Action struct {
	Kind   Kind
	Amount uint64
}

func (a Action) AppliesDiscount() bool {
	return a.Kind == Redeem
}

func (a Action) Direction() Direction {
	if a.Kind == Redeem {
		return BuyerToShop
	}
	return ShopToBuyer
}

func (a Action) Delta() uint64 {
	return a.Amount
}

// Charge returns what the buyer pays for an order totalling total.
func (a Action) Charge(total decimal.Decimal) decimal.Decimal {
	if a.AppliesDiscount() {
		return total.Div(decimal.NewFromInt(2))
	}
	return total
}

func (k Kind) String() string {
	if k == Redeem {
		return "redeem"
	}
	return "issue"
}

type Policy struct {
	Threshold   uint64
	IssueAmount uint64
}

func DefaultPolicy() Policy {
	return Policy{Threshold: RedemptionThreshold, IssueAmount: IssueAmount}
}

// Evaluate must be given the true on-chain balance of the buyer's coupon
// account, not a display value.
func (p Policy) Evaluate(balance uint64) Action {
	if balance >= p.Threshold {
		return Action{Kind: Redeem, Amount: p.Threshold}
	}
	return Action{Kind: Issue, Amount: p.IssueAmount}
}

// DisplayBalance caps balance at DisplayCap for the coupon book.
func DisplayBalance(balance uint64) uint64 {
	if balance > DisplayCap {
		return DisplayCap
	}
	return balance
}
