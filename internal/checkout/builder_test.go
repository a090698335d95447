package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/catalog"
	"github.com/openbuilders/loyalty-checkout/internal/errors"
	"github.com/openbuilders/loyalty-checkout/internal/ledger/ledgertest"
	"github.com/openbuilders/loyalty-checkout/internal/loyalty"
	"github.com/openbuilders/loyalty-checkout/internal/pricing"
	"github.com/openbuilders/loyalty-checkout/internal/solana"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ledger      *ledgertest.Ledger
	builder     *Builder
	merchant    *solana.Keypair
	buyer       *solana.Keypair
	usdc        solana.PublicKey
	coupon      solana.PublicKey
	shopFunds   solana.PublicKey
	shopCoupons solana.PublicKey
	buyerFunds  solana.PublicKey
}

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	pk, err := solana.NewReference()
	require.NoError(t, err)
	return pk
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{ledger: ledgertest.New()}

	var err error
	f.merchant, err = solana.NewKeypair()
	require.NoError(t, err)
	f.buyer, err = solana.NewKeypair()
	require.NoError(t, err)
	f.usdc = newKey(t)
	f.coupon = newKey(t)

	f.ledger.AddMint(f.usdc, 6)
	f.ledger.AddMint(f.coupon, 0)
	f.shopFunds = f.ledger.Fund(f.merchant.PublicKey(), f.usdc, 0)
	f.shopCoupons = f.ledger.Fund(f.merchant.PublicKey(), f.coupon, 1000)
	f.buyerFunds = f.ledger.Fund(f.buyer.PublicKey(), f.usdc, 100_000_000)

	cat, err := catalog.Default()
	require.NoError(t, err)

	f.builder = New(&Config{
		Merchant:              f.merchant,
		PaymentMint:           f.usdc,
		CouponMint:            f.coupon,
		Catalog:               cat,
		ProvisionTimeout:      time.Second,
		ProvisionPollInterval: 10 * time.Millisecond,
	}, f.ledger, nil)

	return f
}

func (f *fixture) request(t *testing.T, sel pricing.Selection) Request {
	return Request{Selection: sel, Buyer: f.buyer.PublicKey(), Reference: newKey(t)}
}

func (f *fixture) buyerCoupons(t *testing.T) solana.PublicKey {
	ata, err := solana.FindAssociatedTokenAddress(f.buyer.PublicKey(), f.coupon)
	require.NoError(t, err)
	return ata
}

// submit co-signs as the buyer and sends the transaction, like a wallet does.
func (f *fixture) submit(t *testing.T, res *Result) solana.Signature {
	t.Helper()

	encoded, err := solana.Encode(res.Transaction)
	require.NoError(t, err)
	tx, err := solana.Decode(encoded)
	require.NoError(t, err)

	require.NoError(t, tx.PartialSign(f.buyer))
	sig, err := f.ledger.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	return sig
}

func TestZeroChargeMakesNoLedgerCalls(t *testing.T) {
	f := newFixture(t)

	for _, sel := range []pricing.Selection{nil, {}, {"cookie": 0}, {"unknown": 3}} {
		_, err := f.builder.Build(context.Background(), f.request(t, sel))
		require.ErrorIs(t, err, ErrZeroAmount)
		assert.True(t, errors.IsValidation(err))
	}

	assert.Equal(t, 0, f.ledger.TotalCalls())
}

func TestInputErrorsComeBeforeLedgerCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sel := pricing.Selection{"cookie": 1}

	_, err := f.builder.Build(ctx, Request{Selection: sel, Buyer: f.buyer.PublicKey()})
	assert.ErrorIs(t, err, ErrMissingReference)

	_, err = f.builder.Build(ctx, Request{Selection: sel, Reference: newKey(t)})
	assert.ErrorIs(t, err, ErrMissingAccount)

	noKey := New(&Config{Catalog: f.builder.config.Catalog}, f.ledger, nil)
	_, err = noKey.Build(ctx, f.request(t, sel))
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.True(t, errors.IsCredential(err))

	assert.Equal(t, 0, f.ledger.TotalCalls())
}

func TestBuildIssuesCouponAndProvisionsAccount(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, pricing.Selection{"cookie": 2})

	res, err := f.builder.Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "10", res.Total.String())
	assert.Equal(t, "10", res.Charge.String())
	assert.Equal(t, uint64(10_000_000), res.ChargeBaseUnits)
	assert.Equal(t, loyalty.Action{Kind: loyalty.Issue, Amount: 1}, res.Action)
	assert.Equal(t, MessageThanks, res.Message)
	assert.Equal(t, f.shopFunds, res.Recipient)

	assert.True(t, f.ledger.HasTokenAccount(f.buyerCoupons(t)), "coupon account is created by the merchant")

	tx := res.Transaction
	assert.Equal(t, f.buyer.PublicKey(), tx.FeePayer)
	require.Len(t, tx.Instructions, 2)

	pay, err := solana.DecodeTransferChecked(tx.Instructions[0])
	require.NoError(t, err)
	assert.Equal(t, f.buyerFunds, pay.Source)
	assert.Equal(t, f.shopFunds, pay.Destination)
	assert.Equal(t, f.buyer.PublicKey(), pay.Owner)
	assert.Equal(t, uint64(10_000_000), pay.Amount)
	assert.Equal(t, uint8(6), pay.Decimals)
	assert.Equal(t, []*solana.AccountMeta{solana.Meta(req.Reference)}, pay.Extra)

	coupon, err := solana.DecodeTransferChecked(tx.Instructions[1])
	require.NoError(t, err)
	assert.Equal(t, f.shopCoupons, coupon.Source)
	assert.Equal(t, f.buyerCoupons(t), coupon.Destination)
	assert.Equal(t, uint64(1), coupon.Amount)

	missing, err := tx.MissingSignatures()
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{f.buyer.PublicKey()}, missing)

	sig := f.submit(t, res)
	assert.NotEqual(t, solana.Signature{}, sig)
	assert.Equal(t, uint64(10_000_000), f.ledger.Balance(f.shopFunds))
	assert.Equal(t, uint64(1), f.ledger.Balance(f.buyerCoupons(t)))
}

func TestBuildRedeemsCoupons(t *testing.T) {
	for _, balance := range []uint64{5, 12} {
		f := newFixture(t)
		f.ledger.Fund(f.buyer.PublicKey(), f.coupon, balance)

		res, err := f.builder.Build(context.Background(), f.request(t, pricing.Selection{"cookie": 2}))
		require.NoError(t, err)

		assert.Equal(t, "5", res.Charge.String())
		assert.Equal(t, uint64(5_000_000), res.ChargeBaseUnits)
		assert.Equal(t, loyalty.Action{Kind: loyalty.Redeem, Amount: 5}, res.Action)
		assert.Equal(t, MessageDiscount, res.Message)

		coupon, err := solana.DecodeTransferChecked(res.Transaction.Instructions[1])
		require.NoError(t, err)
		assert.Equal(t, f.buyerCoupons(t), coupon.Source)
		assert.Equal(t, f.shopCoupons, coupon.Destination)
		assert.Equal(t, f.buyer.PublicKey(), coupon.Owner)
		assert.Equal(t, uint64(5), coupon.Amount)

		f.submit(t, res)
		assert.Equal(t, balance-5, f.ledger.Balance(f.buyerCoupons(t)))
		assert.Equal(t, uint64(1005), f.ledger.Balance(f.shopCoupons))
		assert.Equal(t, uint64(5_000_000), f.ledger.Balance(f.shopFunds))
	}
}

func TestMerchantSealOnEveryTransaction(t *testing.T) {
	for _, balance := range []uint64{0, 5} {
		f := newFixture(t)
		f.ledger.Fund(f.buyer.PublicKey(), f.coupon, balance)

		res, err := f.builder.Build(context.Background(), f.request(t, pricing.Selection{"brownie": 1}))
		require.NoError(t, err)

		coupon := res.Transaction.Instructions[1]
		last := coupon.Accounts[len(coupon.Accounts)-1]
		assert.Equal(t, f.merchant.PublicKey(), last.PublicKey)
		assert.True(t, last.IsSigner)
		assert.False(t, last.IsWritable)

		_, signed := res.Transaction.Signature(f.merchant.PublicKey())
		assert.True(t, signed, "balance %d", balance)

		decoded, err := solana.Decode(mustEncode(t, res.Transaction))
		require.NoError(t, err)
		_, signed = decoded.Signature(f.merchant.PublicKey())
		assert.True(t, signed)
		require.NoError(t, decoded.VerifySignatures())
	}
}

func mustEncode(t *testing.T, tx *solana.Transaction) string {
	s, err := solana.Encode(tx)
	require.NoError(t, err)
	return s
}

func TestProvisionTimeoutIsTransient(t *testing.T) {
	f := newFixture(t)
	f.builder.config.ProvisionTimeout = 50 * time.Millisecond
	f.ledger.Fail("getSignatureStatuses", assert.AnError)

	_, err := f.builder.Build(context.Background(), f.request(t, pricing.Selection{"cookie": 1}))
	require.Error(t, err)
	assert.True(t, errors.IsLedgerTransient(err))
}

func TestLedgerFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.ledger.Fail("getLatestBlockhash", assert.AnError)
	f.ledger.Fund(f.buyer.PublicKey(), f.coupon, 0)

	_, err := f.builder.Build(context.Background(), f.request(t, pricing.Selection{"cookie": 1}))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCouponBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	balance, err := f.builder.CouponBalance(ctx, f.buyer.PublicKey())
	require.NoError(t, err)
	assert.Zero(t, balance)

	f.ledger.Fund(f.buyer.PublicKey(), f.coupon, 7)
	balance, err = f.builder.CouponBalance(ctx, f.buyer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), balance)

	_, err = f.builder.CouponBalance(ctx, solana.PublicKey{})
	assert.ErrorIs(t, err, ErrMissingAccount)
}
