package model

import (
	"time"

	"github.com/google/uuid"
)

type Receipt struct {
	ID           uuid.UUID  `db:"id"`
	Reference    string     `db:"reference"`
	Buyer        string     `db:"buyer"`
	Signature    string     `db:"signature"`
	Status       string     `db:"status"`
	Amount       string     `db:"amount"`
	Coupons      string     `db:"coupons"`
	CouponAmount int64      `db:"coupon_amount"`
	Reason       string     `db:"reason"`
	CreatedAt    time.Time  `db:"created_at"`
	AnnouncedAt  *time.Time `db:"announced_at"`
}
