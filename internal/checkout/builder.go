// Package checkout builds the payment transaction a buyer's wallet co-signs.
//
// Every transaction carries two token transfers: the payment from the buyer to
// the shop tagged with a single-use reference key, and a coupon transfer whose
// direction the loyalty policy decides. The merchant is always a required
// signer of the coupon transfer and signs before the transaction leaves the
// server, so a confirmed transaction without that signature was not built
// here.
package checkout

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/catalog"
	"github.com/openbuilders/loyalty-checkout/internal/errors"
	"github.com/openbuilders/loyalty-checkout/internal/ledger"
	"github.com/openbuilders/loyalty-checkout/internal/loyalty"
	"github.com/openbuilders/loyalty-checkout/internal/metrics"
	"github.com/openbuilders/loyalty-checkout/internal/pricing"
	"github.com/openbuilders/loyalty-checkout/internal/solana"

	"github.com/shopspring/decimal"
)

const (
	MessageDiscount = "50% Discount! 🍪"
	MessageThanks   = "Thanks for your order! 🍪"
)

var (
	ErrZeroAmount        = errors.Validation("Can't checkout with charge of 0")
	ErrMissingReference  = errors.Validation("No reference provided")
	ErrMissingAccount    = errors.Validation("No account provided")
	ErrMissingCredential = errors.Credential("No shop private key provided")
)

type Config struct {
	Merchant       *solana.Keypair
	PaymentMint    solana.PublicKey
	CouponMint     solana.PublicKey
	CouponDecimals uint8
	Catalog        *catalog.Catalog
	Policy         loyalty.Policy
	// ProvisionTimeout bounds the wait for a new coupon account to confirm.
	ProvisionTimeout      time.Duration
	ProvisionPollInterval time.Duration
}

type Request struct {
	Selection pricing.Selection
	Buyer     solana.PublicKey
	Reference solana.PublicKey
}

type Result struct {
	Transaction *solana.Transaction
	Total       decimal.Decimal
	Charge      decimal.Decimal
	// ChargeBaseUnits is Charge in the payment mint's base units.
	ChargeBaseUnits uint64
	PaymentDecimals uint8
	Action          loyalty.Action
	Buyer           solana.PublicKey
	Reference       solana.PublicKey
	// Recipient is the shop's payment token account.
	Recipient solana.PublicKey
	Message   string
}

type Builder struct {
	config  *Config
	ledger  ledger.Client
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(config *Config, client ledger.Client, m *metrics.Metrics) *Builder {
	if config.Policy == (loyalty.Policy{}) {
		config.Policy = loyalty.DefaultPolicy()
	}
	if config.ProvisionTimeout == 0 {
		config.ProvisionTimeout = 30 * time.Second
	}
	if config.ProvisionPollInterval == 0 {
		config.ProvisionPollInterval = 500 * time.Millisecond
	}

	log := slog.With("component", "checkout")
	if config.Merchant != nil {
		log.Info("Merchant loaded", "merchant", config.Merchant.PublicKey().String(),
			"fingerprint", config.Merchant.Fingerprint())
	} else {
		log.Warn("No merchant credential configured, checkouts will be refused")
	}

	return &Builder{
		config:  config,
		ledger:  client,
		metrics: m,
		log:     log,
	}
}

// Merchant returns the shop's public key, or the zero key when no credential
// is configured.
func (b *Builder) Merchant() solana.PublicKey {
	if b.config.Merchant == nil {
		return solana.PublicKey{}
	}
	return b.config.Merchant.PublicKey()
}

func (b *Builder) PaymentMint() solana.PublicKey {
	return b.config.PaymentMint
}

func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	res, err := b.build(ctx, req)
	if err != nil {
		label := "error"
		if code, ok := errors.CodeOf(err); ok {
			label = string(code)
		}
		b.metrics.CheckoutBuilt(label)
		return nil, err
	}

	b.metrics.CheckoutBuilt("ok")
	return res, nil
}

func (b *Builder) build(ctx context.Context, req Request) (*Result, error) {
	total := pricing.ComputeTotal(req.Selection, b.config.Catalog)
	if !total.IsPositive() {
		return nil, ErrZeroAmount
	}
	if req.Reference.IsZero() {
		return nil, ErrMissingReference
	}
	if req.Buyer.IsZero() {
		return nil, ErrMissingAccount
	}
	if b.config.Merchant == nil {
		return nil, ErrMissingCredential
	}

	merchant := b.config.Merchant.PublicKey()
	log := b.log.With("reference", req.Reference.String(), "buyer", req.Buyer.String())

	buyerCoupons, balance, err := b.ensureCouponAccount(ctx, req.Buyer)
	if err != nil {
		return nil, err
	}

	action := b.config.Policy.Evaluate(balance)
	charge := action.Charge(total)

	decimals, err := b.ledger.MintDecimals(ctx, b.config.PaymentMint)
	if err != nil {
		return nil, fmt.Errorf("payment mint decimals: %w", err)
	}
	units, err := pricing.ToBaseUnits(charge, decimals)
	if err != nil {
		return nil, err
	}
	if units == 0 {
		return nil, ErrZeroAmount
	}

	buyerFunds, err := solana.FindAssociatedTokenAddress(req.Buyer, b.config.PaymentMint)
	if err != nil {
		return nil, err
	}
	shopFunds, err := solana.FindAssociatedTokenAddress(merchant, b.config.PaymentMint)
	if err != nil {
		return nil, err
	}
	shopCoupons, err := solana.FindAssociatedTokenAddress(merchant, b.config.CouponMint)
	if err != nil {
		return nil, err
	}

	payment, err := solana.NewTransferCheckedInstruction(buyerFunds, b.config.PaymentMint,
		shopFunds, req.Buyer, units, decimals)
	if err != nil {
		return nil, err
	}
	payment = payment.WithAccounts(solana.Meta(req.Reference))

	var coupon solana.Instruction
	switch action.Direction() {
	case loyalty.BuyerToShop:
		coupon, err = solana.NewTransferCheckedInstruction(buyerCoupons, b.config.CouponMint,
			shopCoupons, req.Buyer, action.Delta(), b.config.CouponDecimals)
	default:
		coupon, err = solana.NewTransferCheckedInstruction(shopCoupons, b.config.CouponMint,
			buyerCoupons, merchant, action.Delta(), b.config.CouponDecimals)
	}
	if err != nil {
		return nil, err
	}
	coupon = coupon.WithAccounts(solana.Meta(merchant).SIGNER())

	blockhash, err := b.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}

	tx := solana.NewTransaction(req.Buyer, blockhash, payment, coupon)
	if err := tx.PartialSign(b.config.Merchant); err != nil {
		return nil, fmt.Errorf("merchant sign: %w", err)
	}

	message := MessageThanks
	if action.AppliesDiscount() {
		message = MessageDiscount
	}

	log.Info("Built checkout transaction",
		"total", total.String(),
		"charge", charge.String(),
		"coupons", action.Kind.String(),
		"coupon_amount", action.Amount,
	)

	return &Result{
		Transaction:     tx,
		Total:           total,
		Charge:          charge,
		ChargeBaseUnits: units,
		PaymentDecimals: decimals,
		Action:          action,
		Buyer:           req.Buyer,
		Reference:       req.Reference,
		Recipient:       shopFunds,
		Message:         message,
	}, nil
}

// CouponBalance returns the buyer's true coupon balance. A buyer without a
// coupon account has zero coupons.
func (b *Builder) CouponBalance(ctx context.Context, buyer solana.PublicKey) (uint64, error) {
	if buyer.IsZero() {
		return 0, ErrMissingAccount
	}

	account, err := solana.FindAssociatedTokenAddress(buyer, b.config.CouponMint)
	if err != nil {
		return 0, err
	}

	balance, err := b.ledger.TokenAccountBalance(ctx, account)
	if stderrors.Is(err, ledger.ErrAccountNotFound) {
		return 0, nil
	}
	return balance, err
}

// ensureCouponAccount returns the buyer's coupon account and balance,
// creating the account at the merchant's expense when it does not exist yet.
func (b *Builder) ensureCouponAccount(ctx context.Context, buyer solana.PublicKey) (
	solana.PublicKey, uint64, error) {

	account, err := solana.FindAssociatedTokenAddress(buyer, b.config.CouponMint)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}

	balance, err := b.ledger.TokenAccountBalance(ctx, account)
	if err == nil {
		return account, balance, nil
	}
	if !stderrors.Is(err, ledger.ErrAccountNotFound) {
		return solana.PublicKey{}, 0, fmt.Errorf("coupon balance: %w", err)
	}

	if err := b.provision(ctx, buyer); err != nil {
		return solana.PublicKey{}, 0, err
	}
	return account, 0, nil
}

func (b *Builder) provision(ctx context.Context, buyer solana.PublicKey) error {
	merchant := b.config.Merchant
	log := b.log.With("buyer", buyer.String())

	create, account, err := solana.NewCreateAssociatedTokenAccountIdempotentInstruction(
		merchant.PublicKey(), buyer, b.config.CouponMint)
	if err != nil {
		return err
	}

	blockhash, err := b.ledger.LatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("latest blockhash: %w", err)
	}

	tx := solana.NewTransaction(merchant.PublicKey(), blockhash, create)
	if err := tx.PartialSign(merchant); err != nil {
		return err
	}

	log.Info("Creating coupon account", "account", account.String())

	sig, err := b.ledger.SendTransaction(ctx, tx)
	if errors.IsSerialization(err) {
		return errors.Internal("couldn't submit coupon account creation", err)
	}
	if err != nil {
		return fmt.Errorf("create coupon account: %w", err)
	}

	return b.awaitConfirmation(ctx, sig)
}

func (b *Builder) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.ProvisionTimeout)
	defer cancel()

	ticker := time.NewTicker(b.config.ProvisionPollInterval)
	defer ticker.Stop()

	for {
		status, err := b.ledger.SignatureStatus(ctx, sig)
		switch {
		case err != nil:
			b.log.Debug("signature status lookup failed", "signature", sig.String(), "error", err)
		case status == nil:
		case status.Failed():
			return fmt.Errorf("coupon account creation %s failed: %s", sig, status.Err)
		case status.Reached(ledger.CommitmentConfirmed):
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.LedgerTransient("coupon account creation not confirmed in time", ctx.Err())
		case <-ticker.C:
		}
	}
}
