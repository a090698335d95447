package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/openbuilders/loyalty-checkout/internal/repository/postgres/model"
	"github.com/openbuilders/loyalty-checkout/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const (
	DuplicateKeyValue string = "23505"
)

const schema = `
CREATE TABLE IF NOT EXISTS receipt (
	id            UUID        NOT NULL,
	reference     TEXT        PRIMARY KEY,
	buyer         TEXT        NOT NULL,
	signature     TEXT        NOT NULL DEFAULT '',
	status        TEXT        NOT NULL,
	amount        TEXT        NOT NULL,
	coupons       TEXT        NOT NULL,
	coupon_amount BIGINT      NOT NULL,
	reason        TEXT        NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	announced_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS receipt_unannounced_idx
	ON receipt (created_at) WHERE announced_at IS NULL;
`

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pg.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate receipts: %w", err)
	}
	return nil
}

// PersistReceipt journals a terminal checkout. Writing the same reference
// twice is not an error.
func (p *Postgres) PersistReceipt(ctx context.Context, r types.Receipt) error {
	_, err := p.pg.Exec(ctx, `
		INSERT INTO receipt (id, reference, buyer, signature, status, amount,
			coupons, coupon_amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.Reference, r.Buyer, r.Signature, string(r.Status), r.Amount.String(),
		r.Coupons, int64(r.CouponAmount), r.Reason, r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == DuplicateKeyValue {
			p.log.Debug("Receipt already persisted", "reference", r.Reference)
			return nil
		}
		return fmt.Errorf("couldn't persist receipt: %w", err)
	}

	return nil
}

// GetUnannouncedReceipts returns up to limit receipts that were not
// published yet, oldest first.
func (p *Postgres) GetUnannouncedReceipts(ctx context.Context, limit int64) ([]types.Receipt, error) {
	rows, err := p.pg.Query(ctx, `
		SELECT id, reference, buyer, signature, status, amount, coupons,
			coupon_amount, reason, created_at, announced_at
		FROM receipt
		WHERE announced_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Receipt])
	if err != nil {
		return nil, fmt.Errorf("scan receipts: %w", err)
	}

	receipts := make([]types.Receipt, 0, len(records))
	for _, rec := range records {
		amount, err := decimal.NewFromString(rec.Amount)
		if err != nil {
			return nil, fmt.Errorf("receipt %s amount: %w", rec.Reference, err)
		}

		receipts = append(receipts, types.Receipt{
			ID:           rec.ID,
			Reference:    rec.Reference,
			Buyer:        rec.Buyer,
			Signature:    rec.Signature,
			Status:       types.CheckoutStatus(rec.Status),
			Amount:       amount,
			Coupons:      rec.Coupons,
			CouponAmount: uint64(rec.CouponAmount),
			Reason:       rec.Reason,
			CreatedAt:    rec.CreatedAt,
		})
	}

	return receipts, nil
}

func (p *Postgres) MarkReceiptsAnnounced(ctx context.Context, references []string) error {
	if len(references) == 0 {
		return nil
	}

	_, err := p.pg.Exec(ctx,
		`UPDATE receipt SET announced_at = now() WHERE reference = ANY($1)`, references)
	if err != nil {
		return fmt.Errorf("mark receipts announced: %w", err)
	}
	return nil
}
