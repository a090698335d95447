package payment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/catalog"
	"github.com/openbuilders/loyalty-checkout/internal/checkout"
	"github.com/openbuilders/loyalty-checkout/internal/errors"
	"github.com/openbuilders/loyalty-checkout/internal/ledger"
	"github.com/openbuilders/loyalty-checkout/internal/ledger/ledgertest"
	"github.com/openbuilders/loyalty-checkout/internal/pricing"
	"github.com/openbuilders/loyalty-checkout/internal/solana"
	"github.com/openbuilders/loyalty-checkout/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	ledger    *ledgertest.Ledger
	verifier  *Verifier
	merchant  *solana.Keypair
	buyer     *solana.Keypair
	usdc      solana.PublicKey
	other     solana.PublicKey
	shopFunds solana.PublicKey
}

func newKeypair(t *testing.T) *solana.Keypair {
	t.Helper()
	kp, err := solana.NewKeypair()
	require.NoError(t, err)
	return kp
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		ledger:   ledgertest.New(),
		merchant: newKeypair(t),
		buyer:    newKeypair(t),
		usdc:     newKeypair(t).PublicKey(),
		other:    newKeypair(t).PublicKey(),
	}
	e.ledger.AddMint(e.usdc, 6)
	e.ledger.AddMint(e.other, 6)
	e.shopFunds = e.ledger.Fund(e.merchant.PublicKey(), e.usdc, 0)
	e.ledger.Fund(e.merchant.PublicKey(), e.other, 0)
	e.ledger.Fund(e.buyer.PublicKey(), e.usdc, 100_000_000)
	e.ledger.Fund(e.buyer.PublicKey(), e.other, 100_000_000)

	e.verifier = New(&Config{PollInterval: 5 * time.Millisecond}, e.ledger, nil)
	return e
}

func (e *env) expectation(reference solana.PublicKey, amount uint64) Expectation {
	return Expectation{
		Reference: reference,
		Recipient: e.shopFunds,
		Mint:      e.usdc,
		Amount:    amount,
		Merchant:  e.merchant.PublicKey(),
	}
}

// pay sends a payment tagged with reference to owner's account for mint.
// Signing as the merchant is optional, which is what a forger cannot do.
func (e *env) pay(t *testing.T, reference, mint, recipientOwner solana.PublicKey, amount uint64,
	sealed bool) solana.Signature {
	t.Helper()

	src, err := solana.FindAssociatedTokenAddress(e.buyer.PublicKey(), mint)
	require.NoError(t, err)
	dst := e.ledger.Fund(recipientOwner, mint, 0)

	ix, err := solana.NewTransferCheckedInstruction(src, mint, dst, e.buyer.PublicKey(), amount, 6)
	require.NoError(t, err)
	ix = ix.WithAccounts(solana.Meta(reference))
	signers := []*solana.Keypair{e.buyer}
	if sealed {
		ix = ix.WithAccounts(solana.Meta(e.merchant.PublicKey()).SIGNER())
		signers = append(signers, e.merchant)
	}

	tx := solana.NewTransaction(e.buyer.PublicKey(), solana.Hash{9}, ix)
	require.NoError(t, tx.PartialSign(signers...))

	sig, err := e.ledger.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	return sig
}

func TestPoll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ref := newKeypair(t).PublicKey()

	_, err := e.verifier.Poll(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFoundYet)

	first := e.pay(t, ref, e.usdc, e.merchant.PublicKey(), 1, true)
	e.pay(t, ref, e.usdc, e.merchant.PublicKey(), 1, true)

	info, err := e.verifier.Poll(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, first, info.Signature, "the oldest match wins")
}

func TestPollTransient(t *testing.T) {
	e := newEnv(t)
	e.ledger.Fail("getSignaturesForAddress", assert.AnError)

	_, err := e.verifier.Poll(context.Background(), newKeypair(t).PublicKey())
	require.Error(t, err)
	assert.True(t, errors.IsLedgerTransient(err))
}

func TestValidate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ref := newKeypair(t).PublicKey()

	sig := e.pay(t, ref, e.usdc, e.merchant.PublicKey(), 10_000_000, true)
	require.NoError(t, e.verifier.Validate(ctx, sig, e.expectation(ref, 10_000_000)))

	// overpayment is accepted
	require.NoError(t, e.verifier.Validate(ctx, sig, e.expectation(ref, 9_000_000)))
}

func TestValidateRejectsSpoofs(t *testing.T) {
	cases := []struct {
		name string
		send func(t *testing.T, e *env, ref solana.PublicKey) solana.Signature
	}{
		{"wrong recipient", func(t *testing.T, e *env, ref solana.PublicKey) solana.Signature {
			return e.pay(t, ref, e.usdc, newKeypair(t).PublicKey(), 10_000_000, true)
		}},
		{"wrong token", func(t *testing.T, e *env, ref solana.PublicKey) solana.Signature {
			return e.pay(t, ref, e.other, e.merchant.PublicKey(), 10_000_000, true)
		}},
		{"underpaid", func(t *testing.T, e *env, ref solana.PublicKey) solana.Signature {
			return e.pay(t, ref, e.usdc, e.merchant.PublicKey(), 9_999_999, true)
		}},
		{"missing merchant seal", func(t *testing.T, e *env, ref solana.PublicKey) solana.Signature {
			return e.pay(t, ref, e.usdc, e.merchant.PublicKey(), 10_000_000, false)
		}},
		{"reference absent", func(t *testing.T, e *env, ref solana.PublicKey) solana.Signature {
			return e.pay(t, newKeypair(t).PublicKey(), e.usdc, e.merchant.PublicKey(), 10_000_000, true)
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := newEnv(t)
			ref := newKeypair(t).PublicKey()
			sig := c.send(t, e, ref)

			err := e.verifier.Validate(context.Background(), sig, e.expectation(ref, 10_000_000))
			require.Error(t, err)
			assert.True(t, errors.IsLedgerRejection(err), "got %v", err)
		})
	}
}

func TestValidateRejectsFailedTransaction(t *testing.T) {
	e := newEnv(t)
	ref := newKeypair(t).PublicKey()

	sig := e.ledger.Record(&ledger.ConfirmedTransaction{
		Err:                   json.RawMessage(`{"InstructionError":[0,{"Custom":1}]}`),
		Signatures:            []solana.Signature{{1}},
		AccountKeys:           []solana.PublicKey{e.buyer.PublicKey(), e.merchant.PublicKey(), ref},
		NumRequiredSignatures: 2,
	})

	p, err := e.verifier.Step(context.Background(), e.expectation(ref, 1), Progress{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, p.Status)
	assert.Equal(t, sig, *p.Signature)
	assert.Contains(t, p.Reason, "failed")
}

func TestStepTransientKeepsStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ref := newKeypair(t).PublicKey()
	exp := e.expectation(ref, 1)

	p, err := e.verifier.Step(ctx, exp, Progress{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, p.Status)

	e.pay(t, ref, e.usdc, e.merchant.PublicKey(), 1, true)

	e.ledger.Fail("getTransaction", assert.AnError)
	p, err = e.verifier.Step(ctx, exp, p)
	require.Error(t, err)
	assert.True(t, errors.IsLedgerTransient(err))
	assert.Equal(t, types.StatusFound, p.Status)

	e.ledger.Fail("getTransaction", nil)
	p, err = e.verifier.Step(ctx, exp, p)
	require.NoError(t, err)
	assert.Equal(t, types.StatusValidated, p.Status)

	again, err := e.verifier.Step(ctx, exp, p)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestWatchCheckoutEndToEnd(t *testing.T) {
	e := newEnv(t)
	coupon := newKeypair(t).PublicKey()
	e.ledger.AddMint(coupon, 0)
	e.ledger.Fund(e.merchant.PublicKey(), coupon, 100)

	cat, err := catalog.Default()
	require.NoError(t, err)
	builder := checkout.New(&checkout.Config{
		Merchant:    e.merchant,
		PaymentMint: e.usdc,
		CouponMint:  coupon,
		Catalog:     cat,
	}, e.ledger, nil)

	ref := newKeypair(t).PublicKey()
	res, err := builder.Build(context.Background(), checkout.Request{
		Selection: pricing.Selection{"cookie": 2},
		Buyer:     e.buyer.PublicKey(),
		Reference: ref,
	})
	require.NoError(t, err)

	exp := Expectation{
		Reference: ref,
		Recipient: res.Recipient,
		Mint:      e.usdc,
		Amount:    res.ChargeBaseUnits,
		Merchant:  e.merchant.PublicKey(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []types.CheckoutStatus
	done := make(chan Progress)
	go func() {
		p, err := e.verifier.Watch(ctx, exp, func(p Progress) {
			seen = append(seen, p.Status)
		})
		assert.NoError(t, err)
		done <- p
	}()

	time.Sleep(20 * time.Millisecond)

	encoded, err := solana.Encode(res.Transaction)
	require.NoError(t, err)
	tx, err := solana.Decode(encoded)
	require.NoError(t, err)
	require.NoError(t, tx.PartialSign(e.buyer))
	_, err = e.ledger.SendTransaction(ctx, tx)
	require.NoError(t, err)

	p := <-done
	assert.Equal(t, types.StatusValidated, p.Status)
	assert.Equal(t, []types.CheckoutStatus{types.StatusValidated}, seen[len(seen)-1:])
	assert.Equal(t, uint64(10_000_000), e.ledger.Balance(res.Recipient))
}

func TestWatchDeadline(t *testing.T) {
	e := newEnv(t)
	e.verifier.config.Deadline = 30 * time.Millisecond

	p, err := e.verifier.Watch(context.Background(), e.expectation(newKeypair(t).PublicKey(), 1), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.StatusPending, p.Status)
}

func TestWatchCancel(t *testing.T) {
	e := newEnv(t)
	e.ledger.Fail("getSignaturesForAddress", assert.AnError)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	p, err := e.verifier.Watch(ctx, e.expectation(newKeypair(t).PublicKey(), 1), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.StatusPending, p.Status)
	assert.Greater(t, e.ledger.Calls("getSignaturesForAddress"), 1, "transient failures are retried")
}
