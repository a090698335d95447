// Package payment confirms that a checkout transaction reached the ledger
// and moved what the checkout asked for.
package payment

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/errors"
	"github.com/openbuilders/loyalty-checkout/internal/ledger"
	"github.com/openbuilders/loyalty-checkout/internal/metrics"
	"github.com/openbuilders/loyalty-checkout/internal/solana"
	"github.com/openbuilders/loyalty-checkout/internal/types"
)

var ErrNotFoundYet = errors.NotFound("no confirmed transaction for reference yet")

type Config struct {
	PollInterval time.Duration
	// Deadline stops Watch after this long. Zero means the caller's context
	// is the only limit.
	Deadline time.Duration
	// SignatureLimit caps the page of signatures fetched per poll.
	SignatureLimit int
}

// Expectation is what a checkout transaction must have done to count as
// paid.
type Expectation struct {
	Reference solana.PublicKey
	Recipient solana.PublicKey
	Mint      solana.PublicKey
	Amount    uint64
	// Merchant, when set, must be a signer of the transaction.
	Merchant solana.PublicKey
}

// Progress is the verification state of one checkout.
type Progress struct {
	Status    types.CheckoutStatus
	Signature *solana.Signature
	Reason    string
}

type Verifier struct {
	config  *Config
	ledger  ledger.Client
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(config *Config, client ledger.Client, m *metrics.Metrics) *Verifier {
	if config.PollInterval == 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.SignatureLimit == 0 {
		config.SignatureLimit = 1000
	}

	return &Verifier{
		config:  config,
		ledger:  client,
		metrics: m,
		log:     slog.With("component", "verifier"),
	}
}

func transient(msg string, err error) error {
	if errors.IsLedgerTransient(err) {
		return err
	}
	return errors.LedgerTransient(msg, err)
}

// Poll finds the oldest confirmed transaction that carries reference among
// its keys. It only proves that such a transaction exists; Validate checks
// what it did.
func (v *Verifier) Poll(ctx context.Context, reference solana.PublicKey) (*ledger.SignatureInfo, error) {
	infos, err := v.ledger.SignaturesForAddress(ctx, reference, v.config.SignatureLimit)
	if err != nil {
		return nil, transient("signature lookup failed", err)
	}
	if len(infos) == 0 {
		return nil, ErrNotFoundYet
	}

	oldest := infos[len(infos)-1]
	return &oldest, nil
}

// Validate fetches the transaction and checks it against exp. A transaction
// that is confirmed but wrong yields a ledger rejection error.
func (v *Verifier) Validate(ctx context.Context, sig solana.Signature, exp Expectation) error {
	tx, err := v.ledger.Transaction(ctx, sig)
	if err != nil {
		return transient("transaction lookup failed", err)
	}

	if tx.Failed() {
		return errors.LedgerRejection(fmt.Sprintf("transaction failed: %s", tx.Err))
	}
	if !tx.HasKey(exp.Reference) {
		return errors.LedgerRejection("reference key missing from transaction")
	}
	if !exp.Merchant.IsZero() && !tx.IsSigner(exp.Merchant) {
		return errors.LedgerRejection("transaction is not signed by the merchant")
	}

	pre, post, ok := tx.TokenBalanceChange(exp.Recipient, exp.Mint)
	if !ok {
		return errors.LedgerRejection("recipient did not receive the expected token")
	}
	var received uint64
	if post > pre {
		received = post - pre
	}
	if received < exp.Amount {
		return errors.LedgerRejection(fmt.Sprintf(
			"recipient received %d base units, expected %d", received, exp.Amount))
	}

	return nil
}

// Step advances p as far as the ledger currently allows. It has no side
// effects beyond ledger reads, so repeating it is safe. Terminal progress is
// returned unchanged. A transient error leaves the status where it was.
func (v *Verifier) Step(ctx context.Context, exp Expectation, p Progress) (Progress, error) {
	if p.Status == "" {
		p.Status = types.StatusPending
	}
	if p.Status.IsTerminal() {
		return p, nil
	}

	log := v.log.With("reference", exp.Reference.String())

	if p.Status == types.StatusPending {
		info, err := v.Poll(ctx, exp.Reference)
		if stderrors.Is(err, ErrNotFoundYet) {
			return p, nil
		}
		if err != nil {
			return p, err
		}

		sig := info.Signature
		p = Progress{Status: types.StatusFound, Signature: &sig}
		log.Debug("Found transaction", "signature", sig.String())
		v.metrics.PaymentVerified(string(p.Status))
	}

	err := v.Validate(ctx, *p.Signature, exp)
	switch {
	case err == nil:
		p.Status = types.StatusValidated
		log.Info("Payment validated", "signature", p.Signature.String())
	case errors.IsLedgerRejection(err):
		p.Status = types.StatusRejected
		p.Reason = err.Error()
		log.Warn("Payment rejected", "signature", p.Signature.String(), "reason", p.Reason)
	default:
		return p, err
	}

	v.metrics.PaymentVerified(string(p.Status))
	return p, nil
}

// Watch steps until the checkout reaches a terminal status, ctx is done or
// the configured deadline passes. Transient failures are logged and retried
// on the next tick. onChange, if set, sees every status change.
func (v *Verifier) Watch(ctx context.Context, exp Expectation, onChange func(Progress)) (Progress, error) {
	if v.config.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.config.Deadline)
		defer cancel()
	}

	ticker := time.NewTicker(v.config.PollInterval)
	defer ticker.Stop()

	p := Progress{Status: types.StatusPending}
	for {
		next, err := v.Step(ctx, exp, p)
		if err != nil {
			v.log.Debug("verification step failed, will retry",
				"reference", exp.Reference.String(), "error", err)
		}
		if next.Status != p.Status && onChange != nil {
			onChange(next)
		}
		p = next

		if p.Status.IsTerminal() {
			return p, nil
		}

		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-ticker.C:
		}
	}
}
