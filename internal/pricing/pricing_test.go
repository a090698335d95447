package pricing

import (
	"net/url"
	"testing"

	"github.com/openbuilders/loyalty-checkout/internal/catalog"
	"github.com/openbuilders/loyalty-checkout/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Entry{
		{ID: "A", Price: decimal.RequireFromString("2.50")},
		{ID: "B", Price: decimal.RequireFromString("9.99")},
		{ID: "C", Price: decimal.RequireFromString("0.10")},
	})
	require.NoError(t, err)
	return c
}

func TestComputeTotalExact(t *testing.T) {
	cat := testCatalog(t)

	total := ComputeTotal(Selection{"A": 3, "B": 0}, cat)
	assert.Equal(t, "7.50", total.StringFixed(2))
	assert.True(t, total.Equal(decimal.RequireFromString("7.5")))
}

func TestComputeTotalNoFloatDrift(t *testing.T) {
	cat := testCatalog(t)

	// 0.1 * 3 is 0.30000000000000004 in binary floating point.
	total := ComputeTotal(Selection{"C": 3}, cat)
	assert.Equal(t, "0.3", total.String())
}

func TestComputeTotalSkipsUnknown(t *testing.T) {
	cat := testCatalog(t)

	assert.True(t, ComputeTotal(Selection{"nope": 4}, cat).IsZero())
	assert.True(t, ComputeTotal(Selection{}, cat).IsZero())
	assert.True(t, ComputeTotal(nil, cat).IsZero())
}

func TestParseSelection(t *testing.T) {
	cat := testCatalog(t)

	query := url.Values{
		"A":         {"3"},
		"B":         {"0"},
		"reference": {"7YttLkHDoNj9wyDur5pM1ejNaAvT9X4eqaYcHQqtj2G5"},
		"utm":       {"x"},
	}

	sel, err := ParseSelection(query, cat)
	require.NoError(t, err)
	assert.Equal(t, Selection{"A": 3, "B": 0}, sel)
}

func TestParseSelectionRejectsMalformed(t *testing.T) {
	cat := testCatalog(t)

	cases := []url.Values{
		{"A": {"-1"}},
		{"A": {"1.5"}},
		{"A": {"two"}},
		{"A": {""}},
		{"A": {"+2"}},
		{"A": {"1", "2"}},
	}

	for _, q := range cases {
		_, err := ParseSelection(q, cat)
		require.Error(t, err, "query %v", q)
		assert.True(t, errors.IsValidation(err), "query %v", q)
	}
}

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		amount   string
		decimals uint8
		want     uint64
	}{
		{"10", 6, 10_000_000},
		{"3.75", 6, 3_750_000},
		{"0.0000015", 6, 1},
		{"1.999", 2, 199},
		{"0", 9, 0},
		{"5", 0, 5},
	}

	for _, c := range cases {
		got, err := ToBaseUnits(decimal.RequireFromString(c.amount), c.decimals)
		require.NoError(t, err, c.amount)
		assert.Equal(t, c.want, got, c.amount)
	}

	_, err := ToBaseUnits(decimal.RequireFromString("-1"), 6)
	assert.True(t, errors.IsValidation(err))

	_, err = ToBaseUnits(decimal.RequireFromString("100000000000000"), 9)
	assert.True(t, errors.IsValidation(err))
}
