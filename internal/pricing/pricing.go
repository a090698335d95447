// Package pricing computes order totals from a selection of catalog items
// using exact decimal arithmetic.
package pricing

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/openbuilders/loyalty-checkout/internal/catalog"
	"github.com/openbuilders/loyalty-checkout/internal/errors"

	"github.com/shopspring/decimal"
)

// Selection maps catalog ids to ordered quantities.
type Selection map[string]uint64

// ParseSelection extracts quantities for catalog items from query parameters.
// Parameters that do not name a catalog item (the payment reference, stray
// tracking params) are ignored.
func ParseSelection(query url.Values, cat *catalog.Catalog) (Selection, error) {
	sel := make(Selection)

	for key, values := range query {
		if _, ok := cat.Lookup(key); !ok {
			continue
		}
		if len(values) != 1 {
			return nil, errors.Validation(fmt.Sprintf("quantity for %q given more than once", key))
		}

		qty, err := ParseQuantity(values[0])
		if err != nil {
			return nil, errors.ServiceError{
				Code:    errors.CodeValidation,
				Message: fmt.Sprintf("invalid quantity for %q", key),
				Err:     err,
			}
		}
		sel[key] = qty
	}

	return sel, nil
}

// ParseQuantity accepts base-10 non-negative integers only.
func ParseQuantity(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("signed quantity %q", s)
	}
	return strconv.ParseUint(s, 10, 64)
}

// ComputeTotal returns the sum of quantity times unit price over every
// selected item that exists in the catalog. Unknown ids are skipped.
func ComputeTotal(sel Selection, cat *catalog.Catalog) decimal.Decimal {
	total := decimal.Zero

	for id, qty := range sel {
		entry, ok := cat.Lookup(id)
		if !ok {
			continue
		}
		total = total.Add(entry.Price.Mul(decimal.NewFromUint64(qty)))
	}

	return total
}

// ToBaseUnits converts amount to the integer base units of a token with the
// given decimals. Fractions finer than one base unit are truncated.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if amount.IsNegative() {
		return 0, errors.Validation("negative amount")
	}

	units := amount.Shift(int32(decimals)).Truncate(0).BigInt()
	if !units.IsUint64() {
		return 0, errors.Validation(fmt.Sprintf("amount %s overflows base units", amount))
	}
	return units.Uint64(), nil
}
